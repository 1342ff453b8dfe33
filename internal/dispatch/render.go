package dispatch

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/samuelleonard/expiro/internal/db"
	"github.com/samuelleonard/expiro/internal/expiry"
	"github.com/samuelleonard/expiro/internal/mail"
)

// bucket groups products sharing an urgency band for the digest layout.
type bucket struct {
	Title    string
	Products []*db.Product
}

// urgency bands, most urgent first. Boundaries line up with the
// classifier policy so the digest never contradicts the status a
// product shows in the app.
var bands = []struct {
	title string
	match func(days int) bool
}{
	{"Already expired", func(d int) bool { return d < 0 }},
	{"Expiring today", func(d int) bool { return d == 0 }},
	{"Within 7 days", func(d int) bool { return d <= 7 }},
	{"Within 30 days", func(d int) bool { return d <= 30 }},
	{"Within 60 days", func(d int) bool { return d <= 60 }},
	{"Within 90 days", func(d int) bool { return d <= 90 }},
	{"Later", func(d int) bool { return true }},
}

// groupByUrgency splits products into ordered urgency buckets, dropping
// empty ones. Products keep their expiry-ascending order within a bucket.
func groupByUrgency(products []*db.Product, today time.Time) []bucket {
	buckets := make([]bucket, len(bands))
	for i, b := range bands {
		buckets[i].Title = b.title
	}

	for _, p := range products {
		days := expiry.DaysUntil(p.ExpiryDate, today)
		for i, b := range bands {
			if b.match(days) {
				buckets[i].Products = append(buckets[i].Products, p)
				break
			}
		}
	}

	out := buckets[:0]
	for _, b := range buckets {
		if len(b.Products) > 0 {
			out = append(out, b)
		}
	}
	return out
}

var emailTmpl = template.Must(template.New("digest").Funcs(template.FuncMap{
	"formatDate": func(t time.Time) string { return t.Format("Jan 2, 2006") },
}).Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1f2933; max-width: 560px; margin: 0 auto;">
  <h2 style="color: #0f766e;">Expiro</h2>
  <p>Hi {{.Greeting}},</p>
  <p>{{.Total}} of your tracked products need attention:</p>
  {{range .Buckets}}
  <h3 style="margin-bottom: 4px;">{{.Title}}</h3>
  <table style="width: 100%; border-collapse: collapse;">
    {{range .Products}}
    <tr>
      <td style="padding: 4px 8px; border-bottom: 1px solid #e4e7eb;">{{.Name}}{{if gt .Quantity 1}} &times;{{.Quantity}}{{end}}</td>
      <td style="padding: 4px 8px; border-bottom: 1px solid #e4e7eb; text-align: right;">{{formatDate .ExpiryDate}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}
  <p style="color: #616e7c; font-size: 12px;">You are receiving this because expiry reminders are enabled for your account.</p>
</body>
</html>`))

type emailData struct {
	Greeting string
	Total    int
	Buckets  []bucket
}

// renderEmail builds the digest message for one recipient.
func renderEmail(u *db.User, products []*db.Product, today time.Time) (mail.Message, error) {
	greeting := strings.TrimSpace(u.DisplayName)
	if greeting == "" {
		greeting = "there"
	}

	var body strings.Builder
	err := emailTmpl.Execute(&body, emailData{
		Greeting: greeting,
		Total:    len(products),
		Buckets:  groupByUrgency(products, today),
	})
	if err != nil {
		return mail.Message{}, fmt.Errorf("failed to render digest: %w", err)
	}

	return mail.Message{
		To:      u.Email,
		Subject: subjectLine(len(products)),
		HTML:    body.String(),
	}, nil
}

func subjectLine(count int) string {
	if count == 1 {
		return "Expiro: 1 product needs attention"
	}
	return fmt.Sprintf("Expiro: %d products need attention", count)
}
