package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/osteele/liquid"

	"github.com/ignite/abuse-guard/internal/domain"
)

const defaultSubject = `{% if kind == "suspended" %}[abuse-guard] {{ tenant_name | default: tenant_id }} has been suspended{% else %}[abuse-guard] {{ tenant_name | default: tenant_id }} has been unlocked{% endif %}`

const defaultText = `Tenant: {{ tenant_name | default: tenant_id }} ({{ tenant_id }})
{% if kind == "suspended" %}Status: suspended ({{ suspension_type }})
Reason: {{ reason }}
{% if permanent %}This suspension does not expire and must be lifted by an administrator.{% else %}Cooldown: {{ cooldown_days }} days
Eligible for review: {{ unlock_eligible_at }}{% endif %}
{% else %}Status: unlocked
Reason: {{ reason }}
{% if requires_approval %}Sending resumes after an administrator approves the unlock.{% endif %}
{% endif %}Time: {{ at }}
Suspension: {{ suspension_id }}
`

const defaultHTML = `<p><strong>{{ tenant_name | default: tenant_id | escape }}</strong> ({{ tenant_id | escape }})</p>
{% if kind == "suspended" %}<p>Suspended ({{ suspension_type }}): {{ reason | escape }}</p>
{% unless permanent %}<p>Cooldown {{ cooldown_days }} days, eligible for review {{ unlock_eligible_at }}.</p>{% endunless %}
{% else %}<p>Unlocked: {{ reason | escape }}</p>
{% if requires_approval %}<p>Pending administrator approval.</p>{% endif %}
{% endif %}<p>{{ at }}</p>`

// Templates renders notices into subject and bodies.
type Templates struct {
	subject *liquid.Template
	text    *liquid.Template
	html    *liquid.Template
}

// Message is a rendered notice.
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// DefaultTemplates returns the built-in notice templates.
func DefaultTemplates() *Templates {
	t, err := NewTemplates(defaultSubject, defaultText, defaultHTML)
	if err != nil {
		panic(fmt.Sprintf("notify: built-in templates: %v", err))
	}
	return t
}

// NewTemplates parses custom Liquid templates. An empty html disables the
// HTML part.
func NewTemplates(subject, text, html string) (*Templates, error) {
	engine := liquid.NewEngine()
	t := &Templates{}
	var err error
	if t.subject, err = parse(engine, "subject", subject); err != nil {
		return nil, err
	}
	if t.text, err = parse(engine, "text", text); err != nil {
		return nil, err
	}
	if html != "" {
		if t.html, err = parse(engine, "html", html); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parse(engine *liquid.Engine, name, src string) (*liquid.Template, error) {
	tpl, err := engine.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parse %s template: %w", name, err)
	}
	return tpl, nil
}

// Render fills the templates with the notice.
func (t *Templates) Render(n domain.SuspensionNotice) (Message, error) {
	b := bindings(n)
	var msg Message
	subject, err := t.subject.RenderString(b)
	if err != nil {
		return Message{}, fmt.Errorf("render subject: %w", err)
	}
	msg.Subject = strings.TrimSpace(subject)

	if msg.Text, err = t.text.RenderString(b); err != nil {
		return Message{}, fmt.Errorf("render text: %w", err)
	}
	if t.html != nil {
		if msg.HTML, err = t.html.RenderString(b); err != nil {
			return Message{}, fmt.Errorf("render html: %w", err)
		}
	}
	return msg, nil
}

func bindings(n domain.SuspensionNotice) liquid.Bindings {
	eligible := ""
	if n.Suspension.UnlockEligibleAt != nil {
		eligible = n.Suspension.UnlockEligibleAt.UTC().Format(time.RFC1123)
	}
	return liquid.Bindings{
		"kind":               n.Kind,
		"tenant_id":          n.Tenant.ID,
		"tenant_name":        n.Tenant.Name,
		"reason":             n.Reason,
		"suspension_id":      n.Suspension.ID,
		"suspension_type":    string(n.Suspension.Type),
		"permanent":          n.Suspension.Type == domain.SuspensionPermanent,
		"cooldown_days":      n.Suspension.CooldownDays,
		"unlock_eligible_at": eligible,
		"requires_approval":  n.Suspension.RequiresApproval,
		"at":                 n.At.UTC().Format(time.RFC1123),
	}
}
