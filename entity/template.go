package entity

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"crm/pkg/goutil"
)

type TemplateStatus uint32

const (
	TemplateStatusUnknown TemplateStatus = iota
	TemplateStatusNormal
	TemplateStatusDeleted
)

// Template is reusable message content with a fixed merge-field
// vocabulary. Visible to its owner always; to others only when shared.
type Template struct {
	ID         *uint64        `json:"id,omitempty"`
	TenantID   *uint64        `json:"tenant_id,omitempty"`
	OwnerID    *uint64        `json:"owner_id,omitempty"`
	Department *string        `json:"department,omitempty"`
	Name       *string        `json:"name,omitempty"`
	Subject    *string        `json:"subject,omitempty"`
	Body       *string        `json:"body,omitempty"`
	Shared     *bool          `json:"shared,omitempty"`
	Status     TemplateStatus `json:"status,omitempty"`
	CreateTime *uint64        `json:"create_time,omitempty"`
	UpdateTime *uint64        `json:"update_time,omitempty"`
}

func (e *Template) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *Template) GetTenantID() uint64 {
	if e != nil && e.TenantID != nil {
		return *e.TenantID
	}
	return 0
}

func (e *Template) GetOwnerID() uint64 {
	if e != nil && e.OwnerID != nil {
		return *e.OwnerID
	}
	return 0
}

func (e *Template) GetCreatorID() uint64 {
	return e.GetOwnerID()
}

func (e *Template) GetDepartment() string {
	if e != nil && e.Department != nil {
		return *e.Department
	}
	return ""
}

func (e *Template) GetName() string {
	if e != nil && e.Name != nil {
		return *e.Name
	}
	return ""
}

func (e *Template) GetSubject() string {
	if e != nil && e.Subject != nil {
		return *e.Subject
	}
	return ""
}

func (e *Template) GetBody() string {
	if e != nil && e.Body != nil {
		return *e.Body
	}
	return ""
}

func (e *Template) IsShared() bool {
	if e != nil && e.Shared != nil {
		return *e.Shared
	}
	return false
}

func (e *Template) GetStatus() TemplateStatus {
	if e != nil {
		return e.Status
	}
	return TemplateStatusUnknown
}

// TemplateWarning reports a non-fatal rendering problem. Sends proceed.
type TemplateWarning struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (w TemplateWarning) String() string {
	return fmt.Sprintf("merge field %q: %s", w.Field, w.Reason)
}

type RenderResult struct {
	Subject  string
	Body     string
	Warnings []TemplateWarning
}

var (
	mergeFieldRegex = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

	scriptBlockRegex = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleBlockRegex  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	eventAttrRegex   = regexp.MustCompile(`(?i)\son[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	controlCharRegex = regexp.MustCompile(`[\r\n\t]+`)
	htmlTagRegex     = regexp.MustCompile(`<[^>]+>`)
	lineBreakRegex   = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>`)
	blankLineRegex   = regexp.MustCompile(`\n{3,}`)
)

// Render merges the template with lead and sender fields. A missing or
// unknown field substitutes the empty string and yields a warning; it never
// fails the send. The body is sanitized against markup that would break
// tracking injection, and the subject against header injection.
func (e *Template) Render(lead *Lead, sender *User, now time.Time) *RenderResult {
	fields := map[string]string{
		"lead_name":    lead.GetFullName(),
		"first_name":   lead.GetFirstName(),
		"last_name":    lead.GetLastName(),
		"company":      lead.GetCompany(),
		"email":        lead.GetEmail(),
		"phone":        lead.GetPhone(),
		"user_name":    sender.GetDisplayName(),
		"user_email":   sender.GetEmail(),
		"current_date": now.Format("January 2, 2006"),
	}

	res := new(RenderResult)

	merge := func(s string) string {
		return mergeFieldRegex.ReplaceAllStringFunc(s, func(m string) string {
			name := mergeFieldRegex.FindStringSubmatch(m)[1]
			value, known := fields[name]
			if !known {
				res.Warnings = append(res.Warnings, TemplateWarning{Field: name, Reason: "unknown merge field"})
				return ""
			}
			if value == "" {
				res.Warnings = append(res.Warnings, TemplateWarning{Field: name, Reason: "no value for lead"})
			}
			return value
		})
	}

	res.Subject = strings.TrimSpace(controlCharRegex.ReplaceAllString(merge(e.GetSubject()), " "))
	res.Body = SanitizeHTML(merge(e.GetBody()))

	return res
}

// SanitizeHTML strips script/style blocks and inline event handlers so the
// rendered body is safe to carry tracking markup.
func SanitizeHTML(body string) string {
	body = scriptBlockRegex.ReplaceAllString(body, "")
	body = styleBlockRegex.ReplaceAllString(body, "")
	body = eventAttrRegex.ReplaceAllString(body, "")
	return body
}

// HtmlToText derives a plain-text alternative from an HTML body.
func HtmlToText(body string) string {
	body = scriptBlockRegex.ReplaceAllString(body, "")
	body = styleBlockRegex.ReplaceAllString(body, "")
	body = lineBreakRegex.ReplaceAllString(body, "\n")
	body = htmlTagRegex.ReplaceAllString(body, "")
	body = blankLineRegex.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}

func NewTemplate(tenantID uint64, owner *User, name, subject, body string, shared bool) *Template {
	now := uint64(time.Now().Unix())
	return &Template{
		TenantID:   goutil.Uint64(tenantID),
		OwnerID:    goutil.Uint64(owner.GetID()),
		Department: goutil.String(owner.GetDepartment()),
		Name:       goutil.String(name),
		Subject:    goutil.String(subject),
		Body:       goutil.String(body),
		Shared:     goutil.Bool(shared),
		Status:     TemplateStatusNormal,
		CreateTime: goutil.Uint64(now),
		UpdateTime: goutil.Uint64(now),
	}
}
