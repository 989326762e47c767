// internal/notify/notify.go
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tiltboard/tiltboard/internal/model"
	"github.com/tiltboard/tiltboard/internal/store"
)

const (
	queueSize   = 64
	sendTimeout = 45 * time.Second
)

// Service fans issue events out to interested users. A nil *Service is
// valid and does nothing, which is how deployments without SMTP run.
type Service struct {
	mailer  Mailer
	store   *store.Store
	baseURL string
	logger  *zap.Logger

	queue chan Message
	once  sync.Once
	done  chan struct{}
	wg    sync.WaitGroup
}

// NewService builds the notifier. mailer may come from NewSender or a test
// stub. Returns nil when mailer is nil.
func NewService(mailer Mailer, st *store.Store, baseURL string, logger *zap.Logger) *Service {
	if mailer == nil {
		return nil
	}
	return &Service{
		mailer:  mailer,
		store:   st,
		baseURL: baseURL,
		logger:  logger,
		queue:   make(chan Message, queueSize),
		done:    make(chan struct{}),
	}
}

// Start launches the delivery worker. Safe to call on a nil service.
func (s *Service) Start() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

// Ping reports whether the underlying mailer is reachable, for health
// checks. A nil service or a mailer without connectivity checks is healthy.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if p, ok := s.mailer.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close drains queued mail and stops the worker.
func (s *Service) Close() {
	if s == nil {
		return
	}
	close(s.done)
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.queue:
			s.deliver(msg)
		case <-s.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case msg := <-s.queue:
					s.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Error("mail delivery failed",
			zap.Strings("to", msg.To),
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

// enqueue hands a message to the worker. A full queue drops the message
// with a warning; notifications are best-effort.
func (s *Service) enqueue(msg Message) {
	if len(msg.To) == 0 {
		return
	}
	select {
	case s.queue <- msg:
	default:
		s.logger.Warn("notification queue full, dropping mail",
			zap.String("subject", msg.Subject))
	}
}

// IssueCreated notifies the machine's subscribers about a new issue.
// actorID (the reporter) is never notified about their own action.
func (s *Service) IssueCreated(ctx context.Context, issue *model.Issue, machine *model.Machine, actorID int64) {
	if s == nil {
		return
	}
	to, err := s.recipients(ctx, issue, actorID)
	if err != nil {
		s.logger.Error("failed to resolve recipients", zap.Int64("issue_id", issue.ID), zap.Error(err))
		return
	}
	s.enqueue(Message{
		To:      to,
		Subject: fmt.Sprintf("[tiltboard] New issue on %s: %s", machine.Name, issue.Title),
		Body: fmt.Sprintf("A new %s issue was reported on %s.\n\n%s\n\n%s\n\nView it: %s/issues/%d\n",
			issue.Severity, machine.Name, issue.Title, issue.Description, s.baseURL, issue.ID),
	})
}

// IssueStatusChanged notifies subscribers and the assignee about a
// workflow transition.
func (s *Service) IssueStatusChanged(ctx context.Context, issue *model.Issue, machine *model.Machine, from model.IssueStatus, actorID int64) {
	if s == nil {
		return
	}
	to, err := s.recipients(ctx, issue, actorID)
	if err != nil {
		s.logger.Error("failed to resolve recipients", zap.Int64("issue_id", issue.ID), zap.Error(err))
		return
	}
	s.enqueue(Message{
		To:      to,
		Subject: fmt.Sprintf("[tiltboard] %s: %s is now %s", machine.Name, issue.Title, issue.Status),
		Body: fmt.Sprintf("Issue %q on %s moved from %s to %s.\n\nView it: %s/issues/%d\n",
			issue.Title, machine.Name, from, issue.Status, s.baseURL, issue.ID),
	})
}

// SendPasswordReset mails the reset link. Queued like everything else;
// auth treats enqueueing as sent.
func (s *Service) SendPasswordReset(_ context.Context, to, link string) error {
	if s == nil {
		return fmt.Errorf("notify: mail is not configured")
	}
	s.enqueue(Message{
		To:      []string{to},
		Subject: "[tiltboard] Password reset",
		Body: fmt.Sprintf("A password reset was requested for your account.\n\n"+
			"Open this link to choose a new password:\n\n%s\n\n"+
			"If you did not request this, ignore this mail.\n", link),
	})
	return nil
}

// recipients collects machine subscribers plus the assignee, honors each
// user's notify_pref, and drops the acting user.
func (s *Service) recipients(ctx context.Context, issue *model.Issue, actorID int64) ([]string, error) {
	subs, err := s.store.MachineSubscribers(ctx, issue.MachineID)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool, len(subs)+1)
	var to []string
	add := func(u *model.User) {
		if u.ID == actorID || seen[u.ID] {
			return
		}
		seen[u.ID] = true
		switch u.NotifyPref {
		case model.NotifyAll:
			to = append(to, u.Email)
		case model.NotifyAssigned:
			if issue.AssigneeID != nil && *issue.AssigneeID == u.ID {
				to = append(to, u.Email)
			}
		}
	}

	for i := range subs {
		add(&subs[i])
	}
	if issue.AssigneeID != nil && !seen[*issue.AssigneeID] {
		assignee, err := s.store.GetUser(ctx, *issue.AssigneeID)
		if err == nil {
			add(assignee)
		}
	}
	return to, nil
}
