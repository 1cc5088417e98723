package notification

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/example/civictrack/internal/models"
)

// Message is a rendered email.
type Message struct {
	Subject string
	Body    string
}

type locale struct {
	statusText map[models.ApplicationStatus]string
	subjects   map[models.ApplicationStatus]string
	body       *template.Template
}

// Catalog holds localized status texts keyed by language and status.
// Unknown languages and missing entries fall back to the fallback language.
type Catalog struct {
	locales     map[string]locale
	matcher     language.Matcher
	tags        []language.Tag
	fallback    string
	frontendURL string
}

type bodyData struct {
	StatusText  string
	Reference   string
	StatusLabel string
	Message     string
	StatusURL   string
}

// NewCatalog builds the built-in de/en/ar catalog.
func NewCatalog(fallback, frontendURL string) (*Catalog, error) {
	c := &Catalog{
		locales:     map[string]locale{},
		frontendURL: strings.TrimRight(frontendURL, "/"),
	}
	for _, l := range builtin {
		body, err := template.New(l.lang).Parse(l.body)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s body template", l.lang)
		}
		c.locales[l.lang] = locale{statusText: l.statusText, subjects: l.subjects, body: body}
		c.tags = append(c.tags, language.Make(l.lang))
	}
	if _, ok := c.locales[fallback]; !ok {
		return nil, errors.Errorf("fallback language %q has no catalog entry", fallback)
	}
	c.fallback = fallback
	// the matcher returns its first tag when nothing matches
	ordered := []language.Tag{language.Make(fallback)}
	for _, t := range c.tags {
		if t.String() != fallback {
			ordered = append(ordered, t)
		}
	}
	c.tags = ordered
	c.matcher = language.NewMatcher(ordered)
	return c, nil
}

// Resolve picks the catalog language for a requested language code.
func (c *Catalog) Resolve(lang string) string {
	tag, err := language.Parse(strings.TrimSpace(lang))
	if err != nil {
		return c.fallback
	}
	_, idx, conf := c.matcher.Match(tag)
	if conf == language.No {
		return c.fallback
	}
	return c.tags[idx].String()
}

// StatusText returns the localized one-line description of a status.
func (c *Catalog) StatusText(status models.ApplicationStatus, lang string) string {
	if s, ok := c.locales[c.Resolve(lang)].statusText[status]; ok {
		return s
	}
	return c.locales[c.fallback].statusText[status]
}

// Render produces the email for n.
func (c *Catalog) Render(n Notice) (Message, error) {
	lang := c.Resolve(n.Language)
	loc := c.locales[lang]

	subject, ok := loc.subjects[n.Status]
	if !ok {
		subject, ok = c.locales[c.fallback].subjects[n.Status]
	}
	if !ok {
		return Message{}, errors.Errorf("no subject for status %q", n.Status)
	}

	var body bytes.Buffer
	err := loc.body.Execute(&body, bodyData{
		StatusText:  c.StatusText(n.Status, lang),
		Reference:   n.Reference,
		StatusLabel: cases.Title(language.English).String(strings.ReplaceAll(string(n.Status), "_", " ")),
		Message:     n.Message,
		StatusURL:   c.frontendURL + "/status",
	})
	if err != nil {
		return Message{}, errors.Wrap(err, "render body")
	}
	return Message{
		Subject: strings.ReplaceAll(subject, "{reference}", n.Reference),
		Body:    body.String(),
	}, nil
}

type builtinLocale struct {
	lang       string
	statusText map[models.ApplicationStatus]string
	subjects   map[models.ApplicationStatus]string
	body       string
}

var builtin = []builtinLocale{
	{
		lang: "de",
		statusText: map[models.ApplicationStatus]string{
			models.StatusReceived:               "Ihr Antrag wurde eingegangen und wird bearbeitet.",
			models.StatusUnderReview:            "Ihr Antrag wird derzeit bearbeitet.",
			models.StatusAdditionalInfoRequired: "Wir benötigen zusätzliche Informationen für Ihren Antrag.",
			models.StatusVerification:           "Ihr Antrag wird derzeit geprüft.",
			models.StatusDecision:               "Ihr Antrag befindet sich in der Entscheidungsphase.",
			models.StatusCompleted:              "Ihr Antrag wurde erfolgreich bearbeitet.",
			models.StatusRejected:               "Ihr Antrag wurde leider abgelehnt.",
		},
		subjects: map[models.ApplicationStatus]string{
			models.StatusReceived:               "Antragseingang bestätigt - {reference}",
			models.StatusUnderReview:            "Antrag in Bearbeitung - {reference}",
			models.StatusAdditionalInfoRequired: "Zusätzliche Informationen erforderlich - {reference}",
			models.StatusVerification:           "Antrag wird geprüft - {reference}",
			models.StatusDecision:               "Antrag in Entscheidungsphase - {reference}",
			models.StatusCompleted:              "Antrag erfolgreich bearbeitet - {reference}",
			models.StatusRejected:               "Antrag abgelehnt - {reference}",
		},
		body: `Liebe Antragstellerin, lieber Antragsteller,

{{.StatusText}}

Antragsnummer: {{.Reference}}
Status: {{.StatusLabel}}
{{if .Message}}
{{.Message}}
{{end}}
Sie können den aktuellen Status Ihres Antrags jederzeit unter folgendem Link einsehen:
{{.StatusURL}}

Mit freundlichen Grüßen
Ihr Bürgerbüro

---
Dies ist eine automatisch generierte E-Mail. Bitte antworten Sie nicht direkt auf diese Nachricht.
`,
	},
	{
		lang: "en",
		statusText: map[models.ApplicationStatus]string{
			models.StatusReceived:               "Your application has been received and is being processed.",
			models.StatusUnderReview:            "Your application is currently being reviewed.",
			models.StatusAdditionalInfoRequired: "We need additional information for your application.",
			models.StatusVerification:           "Your application is currently being verified.",
			models.StatusDecision:               "Your application is in the decision phase.",
			models.StatusCompleted:              "Your application has been successfully processed.",
			models.StatusRejected:               "Your application has been rejected.",
		},
		subjects: map[models.ApplicationStatus]string{
			models.StatusReceived:               "Application received - {reference}",
			models.StatusUnderReview:            "Application under review - {reference}",
			models.StatusAdditionalInfoRequired: "Additional information required - {reference}",
			models.StatusVerification:           "Application being verified - {reference}",
			models.StatusDecision:               "Application in decision phase - {reference}",
			models.StatusCompleted:              "Application successfully processed - {reference}",
			models.StatusRejected:               "Application rejected - {reference}",
		},
		body: `Dear Applicant,

{{.StatusText}}

Application Number: {{.Reference}}
Status: {{.StatusLabel}}
{{if .Message}}
{{.Message}}
{{end}}
You can check the current status of your application at any time under the following link:
{{.StatusURL}}

Best regards
Your Citizen Services Team

---
This is an automatically generated email. Please do not reply directly to this message.
`,
	},
	{
		lang: "ar",
		statusText: map[models.ApplicationStatus]string{
			models.StatusReceived:               "تم استلام طلبك وهو قيد المعالجة.",
			models.StatusUnderReview:            "طلبك قيد المراجعة حالياً.",
			models.StatusAdditionalInfoRequired: "نحتاج إلى معلومات إضافية لطلبك.",
			models.StatusVerification:           "طلبك قيد التحقق حالياً.",
			models.StatusDecision:               "طلبك في مرحلة اتخاذ القرار.",
			models.StatusCompleted:              "تم معالجة طلبك بنجاح.",
			models.StatusRejected:               "تم رفض طلبك.",
		},
		subjects: map[models.ApplicationStatus]string{
			models.StatusReceived:               "تم استلام الطلب - {reference}",
			models.StatusUnderReview:            "الطلب قيد المراجعة - {reference}",
			models.StatusAdditionalInfoRequired: "معلومات إضافية مطلوبة - {reference}",
			models.StatusVerification:           "جاري التحقق من الطلب - {reference}",
			models.StatusDecision:               "الطلب في مرحلة اتخاذ القرار - {reference}",
			models.StatusCompleted:              "تم معالجة الطلب بنجاح - {reference}",
			models.StatusRejected:               "تم رفض الطلب - {reference}",
		},
		body: `عزيزي مقدم الطلب،

{{.StatusText}}

رقم الطلب: {{.Reference}}
الحالة: {{.StatusLabel}}
{{if .Message}}
{{.Message}}
{{end}}
يمكنك التحقق من الحالة الحالية لطلبك في أي وقت تحت الرابط التالي:
{{.StatusURL}}

مع أطيب التحيات
فريق خدمات المواطنين

---
هذا بريد إلكتروني تم إنشاؤه تلقائياً. يرجى عدم الرد مباشرة على هذه الرسالة.
`,
	},
}
