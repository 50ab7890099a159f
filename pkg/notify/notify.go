// Package notify delivers end-of-run reports to operators. Runs are
// unattended cron jobs, so notifications are the only way anyone hears about
// quarantined files or an aborted sync.
package notify

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
)

// Notifier delivers one operator notification.
type Notifier interface {
	Notify(subject, body string) error
}

// LogNotifier writes notifications to the log. It is the fallback when no
// mail relay is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(subject, body string) error {
	log.WithField("subject", subject).Info("Notification:\n" + body)
	return nil
}

// SMTPConfig describes the mail relay notifications go through.
type SMTPConfig struct {
	// Server is the relay's host:port.
	Server string `json:"server"`

	From string `json:"from"`

	Recipients []string `json:"recipients"`
}

// SMTPNotifier sends mail through an unauthenticated relay. Subjects are
// prefixed with the run timestamp so reports from a busy day sort cleanly in
// a mailbox.
type SMTPNotifier struct {
	config SMTPConfig
	clock  clockwork.Clock

	// sendMail is swapped out in tests.
	sendMail func(addr string, from string, to []string, msg []byte) error
}

// NewSMTPNotifier returns a notifier for the given relay.
func NewSMTPNotifier(config SMTPConfig, clock clockwork.Clock) *SMTPNotifier {
	return &SMTPNotifier{
		config: config,
		clock:  clock,
		sendMail: func(addr string, from string, to []string, msg []byte) error {
			return smtp.SendMail(addr, nil, from, to, msg)
		},
	}
}

func (n *SMTPNotifier) Notify(subject, body string) error {
	stamp := n.clock.Now().UTC().Format("20060102.1504")
	full := fmt.Sprintf("[gatekeeper] %s : %s", stamp, subject)

	msg := fmt.Sprintf("To: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		strings.Join(n.config.Recipients, ", "), full, body)

	if err := n.sendMail(n.config.Server, n.config.From, n.config.Recipients, []byte(msg)); err != nil {
		return errors.WithContext(err, "send notification mail")
	}
	return nil
}

// Multi fans a notification out to several notifiers. Delivery is attempted
// on every notifier even if one fails; the first error is returned.
type Multi []Notifier

func (m Multi) Notify(subject, body string) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(subject, body); err != nil {
			log.WithError(err).Warn("A notifier failed to deliver")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
