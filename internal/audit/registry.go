package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"intentflow/internal/common/config"
	"intentflow/internal/common/logger"
	"intentflow/internal/policy"
)

// SigningAuditEntry records one signing decision made while dispatching an
// intent: whether a real transaction was signed, downgraded to a proof, or
// kept off-chain, and why.
type SigningAuditEntry struct {
	SessionID     string    `json:"sessionId"`
	IntentID      string    `json:"intentId"`
	Chain         string    `json:"chain"`
	Venue         string    `json:"venue,omitempty"`
	ExecutionType string    `json:"executionType"`
	Signed        bool      `json:"signed"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

// SNSPublisher is what the registry needs from the SNS client.
type SNSPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// EmailSender is what the registry needs from the SES client.
type EmailSender interface {
	SendEmail(ctx context.Context, input *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

// DocumentIndexer mirrors audit documents into a search index.
type DocumentIndexer interface {
	Index(ctx context.Context, index string, doc []byte) error
}

// Registry owns the audit rings and alert fan-out. It is injected into the
// coordinator and policy engine; there are no package globals.
type Registry struct {
	violations *Ring[policy.PathViolation]
	signings   *Ring[SigningAuditEntry]

	indexer  DocumentIndexer
	sns      SNSPublisher
	email    EmailSender
	alerting config.AlertingConfig
	esIndex  string
	log      logger.Logger
}

// Options carries the optional external sinks. Nil fields disable the
// corresponding fan-out.
type Options struct {
	Indexer DocumentIndexer
	SNS     SNSPublisher
	Email   EmailSender
}

// NewRegistry creates the audit registry with the configured ring sizes.
func NewRegistry(auditCfg config.AuditConfig, alerting config.AlertingConfig, opts Options, log logger.Logger) *Registry {
	return &Registry{
		violations: NewRing[policy.PathViolation](auditCfg.ViolationRingSize),
		signings:   NewRing[SigningAuditEntry](auditCfg.SigningRingSize),
		indexer:    opts.Indexer,
		sns:        opts.SNS,
		email:      opts.Email,
		alerting:   alerting,
		esIndex:    auditCfg.ESIndex,
		log:        log,
	}
}

// RecordPathViolation appends a blocked transition and raises the operator
// alert. Sink failures are logged, never propagated: audit fan-out must not
// turn a policy decision into a pipeline failure.
func (r *Registry) RecordPathViolation(ctx context.Context, v policy.PathViolation) {
	r.violations.Append(v)
	r.mirror(ctx, "path_violation", v)

	if r.sns != nil && r.alerting.SNS.Enabled {
		subject := "intentflow: blocked path transition"
		body, _ := json.Marshal(v)
		_, err := r.sns.Publish(ctx, &sns.PublishInput{
			TopicArn: aws.String(r.alerting.SNS.TopicARN),
			Subject:  aws.String(subject),
			Message:  aws.String(string(body)),
		})
		if err != nil {
			r.log.Error("sns alert failed", map[string]interface{}{
				"session_id": v.SessionID,
				"error":      err.Error(),
			})
		}
	}

	if r.email != nil && r.alerting.SES.Enabled {
		r.sendViolationEmail(ctx, v)
	}
}

// RecordSigningDecision appends a signing decision and mirrors it.
func (r *Registry) RecordSigningDecision(ctx context.Context, entry SigningAuditEntry) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	r.signings.Append(entry)
	r.mirror(ctx, "signing_decision", entry)
}

// Violations returns the recorded violations oldest-first.
func (r *Registry) Violations() []policy.PathViolation {
	return r.violations.Snapshot()
}

// SigningDecisions returns the recorded signing decisions oldest-first.
func (r *Registry) SigningDecisions() []SigningAuditEntry {
	return r.signings.Snapshot()
}

func (r *Registry) mirror(ctx context.Context, docType string, payload interface{}) {
	if r.indexer == nil || r.esIndex == "" {
		return
	}
	doc, err := json.Marshal(map[string]interface{}{
		"type":     docType,
		"document": payload,
	})
	if err != nil {
		return
	}
	if err := r.indexer.Index(ctx, r.esIndex, doc); err != nil {
		r.log.Warn("audit mirror failed", map[string]interface{}{
			"index": r.esIndex,
			"type":  docType,
			"error": err.Error(),
		})
	}
}

func (r *Registry) sendViolationEmail(ctx context.Context, v policy.PathViolation) {
	body := fmt.Sprintf(
		"Blocked path transition\n\nsession: %s\nfrom: %s\nto: %s\nreason: %s\nintent: %s\nat: %s\n",
		v.SessionID, v.FromPath, v.ToPath, v.Reason, v.Intent, v.At.Format(time.RFC3339),
	)
	_, err := r.email.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(r.alerting.SES.FromEmail),
		Destination: &sestypes.Destination{
			ToAddresses: []string{r.alerting.SES.ToEmail},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String("intentflow: blocked path transition")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
	})
	if err != nil {
		r.log.Error("ses alert failed", map[string]interface{}{
			"session_id": v.SessionID,
			"error":      err.Error(),
		})
	}
}
