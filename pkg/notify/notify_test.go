package notify

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
)

func TestSMTPNotifier(t *testing.T) {
	config := SMTPConfig{
		Server:     "relay.example.com:25",
		From:       "gatekeeper@example.com",
		Recipients: []string{"ops@example.com", "radar@example.com"},
	}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 15, 4, 30, 0, 0, time.UTC))

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	n := NewSMTPNotifier(config, clock)
	n.sendMail = func(addr string, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	assert.NoError(t, n.Notify("Sync complete", "5 files transferred."))
	assert.Equal(t, "relay.example.com:25", gotAddr)
	assert.Equal(t, "gatekeeper@example.com", gotFrom)
	assert.Equal(t, config.Recipients, gotTo)
	assert.Equal(t,
		"To: ops@example.com, radar@example.com\r\n"+
			"Subject: [gatekeeper] 20240115.0430 : Sync complete\r\n"+
			"\r\n"+
			"5 files transferred.\r\n",
		string(gotMsg))
}

type recordingNotifier struct {
	subjects []string
	err      error
}

func (n *recordingNotifier) Notify(subject, body string) error {
	n.subjects = append(n.subjects, subject)
	return n.err
}

func TestMultiDeliversToAll(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("relay down")}
	working := &recordingNotifier{}

	err := Multi{failing, working}.Notify("subject", "body")
	assert.EqualError(t, err, "relay down")

	// The failure of the first notifier must not stop the second.
	assert.Equal(t, []string{"subject"}, failing.subjects)
	assert.Equal(t, []string{"subject"}, working.subjects)
}
