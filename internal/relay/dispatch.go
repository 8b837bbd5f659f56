package relay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/model"
)

// AddressResolver maps a provider-reported address to its user.
type AddressResolver interface {
	FindByAddress(ctx context.Context, address string) (*model.Credential, error)
}

// Dispatcher turns external mailbox-change notifications into events
// for the owning user.
type Dispatcher struct {
	resolver AddressResolver
	relay    *Relay
	log      *log.Entry
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(resolver AddressResolver, relay *Relay, logger *log.Entry) *Dispatcher {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Dispatcher{
		resolver: resolver,
		relay:    relay,
		log:      logger.WithField("component", "dispatcher"),
	}
}

// MailboxChanged broadcasts a mailbox_changed event to the user owning
// address. An address no user owns is logged and dropped.
func (d *Dispatcher) MailboxChanged(ctx context.Context, address string, historyID uint64) error {
	address = strings.ToLower(strings.TrimSpace(address))
	cred, err := d.resolver.FindByAddress(ctx, address)
	if errors.Is(err, credential.ErrNoCredential) {
		d.log.WithField("address", address).Info("dropping push for unknown address")
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolving push address: %w", err)
	}

	d.log.WithFields(log.Fields{
		"user_id":    cred.UserID,
		"history_id": historyID,
	}).Debug("mailbox changed")
	return d.relay.Publish(ctx, cred.UserID, model.EventMailboxChanged, model.MailboxChange{
		Address:   address,
		HistoryID: historyID,
	})
}

// NotifyNewMail adapts MailboxChanged to the IMAP watcher callback.
func (d *Dispatcher) NotifyNewMail(ctx context.Context, address string) {
	if err := d.MailboxChanged(ctx, address, 0); err != nil {
		d.log.WithError(err).Warn("dispatching imap notification")
	}
}

// PushEnvelope is the body Pub/Sub posts to a push endpoint.
type PushEnvelope struct {
	Message struct {
		Data        string `json:"data" validate:"required,base64"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// GmailNotification is the payload Gmail publishes on mailbox changes.
type GmailNotification struct {
	EmailAddress string    `json:"emailAddress" validate:"required,email"`
	HistoryID    historyID `json:"historyId" validate:"gt=0"`
}

// historyID accepts both the quoted and the bare numeric form.
type historyID uint64

func (h *historyID) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseUint(strings.Trim(string(b), `"`), 10, 64)
	if err != nil {
		return fmt.Errorf("parsing historyId %s: %w", b, err)
	}
	*h = historyID(v)
	return nil
}

var validate = validator.New()

// DecodeGmailPush decodes and validates a Pub/Sub push body.
func DecodeGmailPush(body []byte) (*GmailNotification, error) {
	var env PushEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding push envelope: %w", err)
	}
	if err := validate.Struct(env); err != nil {
		return nil, fmt.Errorf("invalid push envelope: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding push data: %w", err)
	}
	var n GmailNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decoding gmail notification: %w", err)
	}
	if err := validate.Struct(n); err != nil {
		return nil, fmt.Errorf("invalid gmail notification: %w", err)
	}
	return &n, nil
}
