package model

import "testing"

func TestParseRole(t *testing.T) {
	for _, ok := range []string{"admin", "tech", "player"} {
		if _, err := ParseRole(ok); err != nil {
			t.Errorf("ParseRole(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"", "Admin", "superuser"} {
		if _, err := ParseRole(bad); err == nil {
			t.Errorf("ParseRole(%q) = nil error, want error", bad)
		}
	}
}

func TestRoleCanTriage(t *testing.T) {
	if !RoleAdmin.CanTriage() || !RoleTech.CanTriage() {
		t.Error("admin and tech should be able to triage")
	}
	if RolePlayer.CanTriage() {
		t.Error("player should not be able to triage")
	}
}

func TestParseSeverity(t *testing.T) {
	for _, ok := range []string{"low", "playable", "unplayable"} {
		if _, err := ParseSeverity(ok); err != nil {
			t.Errorf("ParseSeverity(%q) = %v, want nil", ok, err)
		}
	}
	if _, err := ParseSeverity("catastrophic"); err == nil {
		t.Error("ParseSeverity(catastrophic) = nil error, want error")
	}
}

func TestParseIssueStatus(t *testing.T) {
	for _, ok := range []string{"open", "in_progress", "fixed", "wont_fix"} {
		if _, err := ParseIssueStatus(ok); err != nil {
			t.Errorf("ParseIssueStatus(%q) = %v, want nil", ok, err)
		}
	}
	if _, err := ParseIssueStatus("closed"); err == nil {
		t.Error("ParseIssueStatus(closed) = nil error, want error")
	}
}

func TestIssueStatusTerminal(t *testing.T) {
	if IssueOpen.Terminal() || IssueInProgress.Terminal() {
		t.Error("open/in_progress should not be terminal")
	}
	if !IssueFixed.Terminal() || !IssueWontFix.Terminal() {
		t.Error("fixed/wont_fix should be terminal")
	}
}

func TestParseMachineStatus(t *testing.T) {
	if _, err := ParseMachineStatus("in_repair"); err != nil {
		t.Errorf("ParseMachineStatus(in_repair) = %v, want nil", err)
	}
	if _, err := ParseMachineStatus("broken"); err == nil {
		t.Error("ParseMachineStatus(broken) = nil error, want error")
	}
}

func TestParseNotifyPref(t *testing.T) {
	for _, ok := range []string{"all", "assigned", "none"} {
		if _, err := ParseNotifyPref(ok); err != nil {
			t.Errorf("ParseNotifyPref(%q) = %v, want nil", ok, err)
		}
	}
	if _, err := ParseNotifyPref("weekly"); err == nil {
		t.Error("ParseNotifyPref(weekly) = nil error, want error")
	}
}
