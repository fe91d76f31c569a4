package worker

import (
	"bytes"
	"html/template"
	texttemplate "text/template"
)

// emailRow 表格行
type emailRow struct {
	Label string
	Value string
}

// emailSection 带色条的提示块
type emailSection struct {
	Title string
	Color string
	Lines []string
}

// emailView 邮件渲染参数
type emailView struct {
	Title     string
	Greeting  string
	Intro     []string
	Rows      []emailRow
	Sections  []emailSection
	Quote     string
	LinkURL   string
	LinkText  string
	FooterURL string
	FooterTxt string
}

var emailLayout = template.Must(template.New("email").Parse(`<div style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto;">
  <div style="background: #1e3a8a; padding: 30px; border-radius: 12px 12px 0 0;">
    <h2 style="color: white; margin: 0;">{{.Title}}</h2>
  </div>
  <div style="background: white; padding: 30px; border: 1px solid #e2e8f0; border-top: none; border-radius: 0 0 12px 12px;">
    {{- if .Greeting}}
    <p style="color: #1e293b; font-size: 16px;">{{.Greeting}}</p>
    {{- end}}
    {{- range .Intro}}
    <p style="color: #64748b;">{{.}}</p>
    {{- end}}
    {{- if .Rows}}
    <table style="border-collapse: collapse; width: 100%;">
      {{- range .Rows}}
      <tr><td style="padding: 8px; border-bottom: 1px solid #eee;"><strong>{{.Label}}</strong></td><td style="padding: 8px; border-bottom: 1px solid #eee;">{{.Value}}</td></tr>
      {{- end}}
    </table>
    {{- end}}
    {{- range .Sections}}
    <div style="border-left: 4px solid {{.Color}}; padding: 15px; margin: 20px 0;">
      <h3 style="margin: 0 0 10px 0; font-size: 14px;">{{.Title}}</h3>
      <ul style="margin: 0; padding-left: 20px;">{{range .Lines}}<li>{{.}}</li>{{end}}</ul>
    </div>
    {{- end}}
    {{- if .Quote}}
    <div style="background: #f5f5f5; padding: 16px; border-radius: 8px; white-space: pre-wrap;">{{.Quote}}</div>
    {{- end}}
    {{- if .LinkURL}}
    <div style="text-align: center; margin-top: 30px;">
      <a href="{{.LinkURL}}" style="display: inline-block; background: #1d4ed8; color: white; padding: 14px 28px; text-decoration: none; border-radius: 8px; font-weight: 600;">{{.LinkText}}</a>
    </div>
    {{- end}}
    {{- if .FooterURL}}
    <p style="color: #94a3b8; font-size: 12px; margin-top: 30px; text-align: center;"><a href="{{.FooterURL}}" style="color: #94a3b8;">{{.FooterTxt}}</a></p>
    {{- end}}
  </div>
</div>
`))

var textLayout = texttemplate.Must(texttemplate.New("text").Parse(`{{.Title}}
{{if .Greeting}}
{{.Greeting}}
{{end}}{{range .Intro}}
{{.}}
{{end}}{{if .Rows}}
{{range .Rows}}{{.Label}}: {{.Value}}
{{end}}{{end}}{{range .Sections}}
{{.Title}}
{{range .Lines}}  - {{.}}
{{end}}{{end}}{{if .Quote}}
{{.Quote}}
{{end}}{{if .LinkURL}}
{{.LinkText}}: {{.LinkURL}}
{{end}}`))

// render 同时生成纯文本与 HTML 正文
func (v emailView) render() (text, html string, err error) {
	var hb, tb bytes.Buffer
	if err = emailLayout.Execute(&hb, v); err != nil {
		return "", "", err
	}
	if err = textLayout.Execute(&tb, v); err != nil {
		return "", "", err
	}
	return tb.String(), hb.String(), nil
}
