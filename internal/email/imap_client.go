package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"iter"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmirror/internal/config"
	"github.com/brandon/mailmirror/pkg/types"
)

// RawMessage is one message as fetched from a remote folder
type RawMessage struct {
	Raw          []byte
	UID          uint32
	Flags        []string
	Folder       string
	InternalDate time.Time
}

// HasFlag reports whether the message carries flag, ignoring case
func (m RawMessage) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// Session is an authenticated connection to one remote mailbox
type Session interface {
	// FetchFolder opens folder read-only and yields its most recent max
	// messages, oldest first. max == 0 fetches the whole folder.
	FetchFolder(ctx context.Context, folder string, max uint32) (iter.Seq2[RawMessage, error], error)
	Close() error
}

// Dialer opens sessions against the mailbox an account syncs from
type Dialer interface {
	Dial(ctx context.Context, owner types.Account) (Session, error)
}

// IMAPDialer dials IMAP servers using per-account settings
type IMAPDialer struct {
	settings func(email string) config.IMAPConfig
	logger   *logrus.Logger
}

// NewIMAPDialer creates a dialer; settings resolves the IMAP config for an owner email
func NewIMAPDialer(settings func(email string) config.IMAPConfig, logger *logrus.Logger) *IMAPDialer {
	return &IMAPDialer{
		settings: settings,
		logger:   logger,
	}
}

// Dial connects and logs in
func (d *IMAPDialer) Dial(ctx context.Context, owner types.Account) (Session, error) {
	c := NewIMAPClient(d.settings(owner.Email), d.logger)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// IMAPClient wraps an IMAP client connection
type IMAPClient struct {
	config    config.IMAPConfig
	client    *client.Client
	logger    *logrus.Logger
	connected bool
}

// NewIMAPClient creates a new IMAP client (does not connect immediately)
func NewIMAPClient(cfg config.IMAPConfig, logger *logrus.Logger) *IMAPClient {
	return &IMAPClient{
		config: cfg,
		logger: logger,
	}
}

// Connect establishes a connection to the IMAP server
func (c *IMAPClient) Connect(ctx context.Context) error {
	if c.connected && c.client != nil {
		if c.client.State() != imap.LogoutState {
			return nil
		}
		c.logger.WithField("host", c.config.Host).Warn("IMAP connection dropped, reconnecting")
		c.client = nil
		c.connected = false
	}

	dialer := &net.Dialer{Timeout: c.config.ConnectTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	var (
		cl  *client.Client
		err error
	)
	if c.config.UseTLS {
		cl, err = client.DialWithDialerTLS(dialer, c.config.Addr(), &tls.Config{
			ServerName: c.config.Host,
			MinVersion: tls.VersionTLS12,
		})
	} else {
		cl, err = client.DialWithDialer(dialer, c.config.Addr())
	}
	if err != nil {
		return fmt.Errorf("%w: failed to connect to IMAP server %s: %w", ErrConnect, c.config.Addr(), err)
	}

	// Bound the login exchange, then leave reads unbounded for large fetches
	cl.Timeout = c.config.AuthTimeout
	if err := cl.Login(c.config.Username, c.config.Password); err != nil {
		c.logger.WithError(err).Error("Failed to login to IMAP server")
		cl.Logout() //nolint:errcheck
		return fmt.Errorf("%w: failed to login to IMAP server: %w", ErrConnect, err)
	}
	cl.Timeout = 0

	c.client = cl
	c.connected = true
	c.logger.WithFields(logrus.Fields{
		"host":     c.config.Host,
		"username": c.config.Username,
	}).Info("Connected to IMAP server")
	return nil
}

// Close closes the IMAP connection
func (c *IMAPClient) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Logout()
	c.client = nil
	c.connected = false
	if err != nil && err != client.ErrAlreadyLoggedOut {
		return fmt.Errorf("failed to logout: %w", err)
	}
	return nil
}

// FetchFolder examines folder and streams its most recent messages.
// Bodies are fetched with BODY.PEEK[] so the remote \Seen flag is untouched.
func (c *IMAPClient) FetchFolder(ctx context.Context, folder string, max uint32) (iter.Seq2[RawMessage, error], error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	mbox, err := c.client.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("failed to examine folder %s: %w", folder, err)
	}

	if mbox.Messages == 0 {
		return func(func(RawMessage, error) bool) {}, nil
	}

	seqSet := recentRange(mbox.Messages, max)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchFlags, imap.FetchInternalDate, imap.FetchUid, section.FetchItem()}

	c.logger.WithFields(logrus.Fields{
		"folder": folder,
		"exists": mbox.Messages,
		"range":  seqSet.String(),
	}).Debug("Fetching folder")

	return func(yield func(RawMessage, error) bool) {
		messages := make(chan *imap.Message, 10)
		done := make(chan error, 1)

		go func() {
			done <- c.client.Fetch(seqSet, items, messages)
		}()

		// After the consumer stops, keep draining so Fetch can return
		stopped := false
		for msg := range messages {
			if stopped {
				continue
			}
			raw := RawMessage{
				UID:          msg.Uid,
				Flags:        msg.Flags,
				Folder:       folder,
				InternalDate: msg.InternalDate,
			}
			if body := msg.GetBody(section); body != nil {
				data, err := io.ReadAll(body)
				if err != nil {
					c.logger.WithError(err).WithField("uid", msg.Uid).Warn("Error reading message body")
				}
				raw.Raw = data
			}
			if !yield(raw, nil) {
				stopped = true
			}
		}

		if err := <-done; err != nil && !stopped {
			yield(RawMessage{Folder: folder}, fmt.Errorf("failed to fetch messages from %s: %w", folder, err))
		}
	}, nil
}

// recentRange selects the last max sequence numbers of a folder holding total messages
func recentRange(total, max uint32) *imap.SeqSet {
	start := uint32(1)
	if max > 0 && total > max {
		start = total - max + 1
	}
	seqSet := new(imap.SeqSet)
	seqSet.AddRange(start, total)
	return seqSet
}
