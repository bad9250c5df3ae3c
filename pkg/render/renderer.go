package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"github.com/google/uuid"

	"github.com/eventra/notify-outbox/pkg/store"
	"github.com/eventra/notify-outbox/pkg/transport"
)

// ErrEntityNotFound is returned by a DataSource when the related entity no
// longer exists (e.g. the registration was deleted). It terminates the
// entry instead of retrying forever.
var ErrEntityNotFound = errors.New("related entity not found")

// DataSource resolves the structured payload a template needs from the
// entry's related entity. It is the boundary to the application's own data
// model; this package only depends on the returned map.
type DataSource interface {
	Load(ctx context.Context, msgType store.MessageType, relatedEntityID uuid.UUID) (map[string]any, error)
}

// Renderer maps message types onto their templates and produces the final
// subject and body for an entry.
type Renderer struct {
	source    DataSource
	templates map[store.MessageType]*template.Template
}

func NewRenderer(source DataSource) *Renderer {
	templates := make(map[store.MessageType]*template.Template, len(templateSources))
	for msgType, src := range templateSources {
		templates[msgType] = template.Must(
			template.New(string(msgType)).Option("missingkey=error").Parse(src))
	}
	return &Renderer{source: source, templates: templates}
}

// Render produces the subject and body for the entry. A body the producer
// persisted up front (system notifications) is passed through untouched;
// everything else is rendered lazily so template changes before the due
// time take effect.
//
// Failures are classified for the delivery worker: a vanished entity or a
// template/payload mismatch is permanent, an unreachable data source is
// transient.
func (r *Renderer) Render(ctx context.Context, entry store.OutboxEntry) (string, string, error) {
	subject := entry.Subject
	if subject == "" {
		subject = subjects[entry.Type]
	}

	if entry.Body != "" {
		return subject, entry.Body, nil
	}

	tmpl, ok := r.templates[entry.Type]
	if !ok {
		return "", "", transport.Permanent(fmt.Errorf("no template for type %q", entry.Type))
	}
	if entry.RelatedEntityID == nil {
		return "", "", transport.Permanent(fmt.Errorf("type %q requires a related entity for rendering", entry.Type))
	}

	data, err := r.source.Load(ctx, entry.Type, *entry.RelatedEntityID)
	if err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			return "", "", transport.Permanent(err)
		}
		// data source outage; the input may still become loadable
		return "", "", transport.Transient(err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", transport.Permanent(fmt.Errorf("template %q: %w", entry.Type, err))
	}
	return subject, buf.String(), nil
}
