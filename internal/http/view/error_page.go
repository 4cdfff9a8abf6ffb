package view

import (
	"bytes"
	"html/template"
)

// ErrorPageData provides the dynamic fields of the visitor-facing error
// page. Detail is a human sentence; internals never reach it.
type ErrorPageData struct {
	Title  string
	Detail string
}

var errorPageTmpl = template.Must(template.New("error_page").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<title>{{if .Title}}{{.Title}}{{else}}Something went wrong{{end}}</title>
	<style>
		:root {
			--bg: #090a0f;
			--card: rgba(255, 255, 255, 0.05);
			--border: rgba(255, 255, 255, 0.15);
			--text: #e7ecff;
			--muted: #a1acc5;
			font-family: "Inter", -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		* { box-sizing: border-box; }
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: radial-gradient(circle at 20% 20%, #111827, #030712 60%);
			color: var(--text);
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 18px;
			padding: 32px;
			width: min(480px, 92vw);
			box-shadow: 0 45px 100px rgba(0,0,0,0.35);
			backdrop-filter: blur(18px);
			text-align: center;
		}
		h1 { font-size: 1.5rem; margin-bottom: 6px; }
		p { color: var(--muted); margin-top: 0; }
	</style>
</head>
<body>
	<div class="card">
		<h1>{{.Title}}</h1>
		<p>{{.Detail}}</p>
	</div>
</body>
</html>
`))

// RenderErrorPage renders the generic visitor error page.
func RenderErrorPage(data ErrorPageData) (string, error) {
	var buf bytes.Buffer
	if err := errorPageTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Canned pages for the redirect path.
var (
	NotFoundPage = ErrorPageData{
		Title:  "Link not found",
		Detail: "This short link does not exist. Check the address and try again.",
	}
	GonePage = ErrorPageData{
		Title:  "Link unavailable",
		Detail: "This short link has been disabled by its owner.",
	}
	InternalPage = ErrorPageData{
		Title:  "Something went wrong",
		Detail: "We could not complete this redirect. Please try again later.",
	}
)
