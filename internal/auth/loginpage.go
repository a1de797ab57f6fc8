package auth

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/sdko-org/site-gateway/internal/validate"
)

const LoginPageCSP = "default-src 'none'; style-src 'unsafe-inline'; form-action 'self'; frame-ancestors 'none'"

// Fallback palette, keyed by the brand token roles the page understands.
var defaultColors = map[string]string{
	"background": "#f5f6f8",
	"surface":    "#ffffff",
	"text":       "#1d2330",
	"muted":      "#5b6474",
	"primary":    "#1f4fd1",
	"on_primary": "#ffffff",
	"border":     "#d6dae1",
	"error":      "#b42318",
}

type LoginPage struct {
	Title       string
	Site        string
	Error       string
	BrandTokens map[string]string
}

type loginView struct {
	Title  string
	Action string
	Error  string
	Colors map[string]template.CSS
}

var loginTemplate = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="robots" content="noindex, nofollow">
<title>{{.Title}}</title>
<style>
*{box-sizing:border-box}
body{margin:0;min-height:100vh;display:flex;align-items:center;justify-content:center;background:{{index .Colors "background"}};color:{{index .Colors "text"}};font-family:system-ui,-apple-system,"Segoe UI",sans-serif}
main{width:100%;max-width:380px;padding:2rem;background:{{index .Colors "surface"}};border:1px solid {{index .Colors "border"}};border-radius:12px}
h1{font-size:1.35rem;margin:0 0 .25rem}
p{margin:0 0 1.5rem;color:{{index .Colors "muted"}};font-size:.95rem}
label{display:block;font-size:.85rem;margin-bottom:.4rem}
input{width:100%;padding:.7rem .8rem;font-size:1rem;border:1px solid {{index .Colors "border"}};border-radius:8px}
button{margin-top:1rem;width:100%;padding:.75rem;font-size:1rem;border:0;border-radius:8px;cursor:pointer;background:{{index .Colors "primary"}};color:{{index .Colors "on_primary"}}}
.error{margin:0 0 1rem;padding:.6rem .8rem;border-radius:8px;border:1px solid {{index .Colors "error"}};color:{{index .Colors "error"}};font-size:.9rem}
</style>
</head>
<body>
<main>
<h1>{{.Title}}</h1>
<p>This site is password protected.</p>
{{if .Error}}<div class="error" role="alert">{{.Error}}</div>{{end}}
<form method="post" action="{{.Action}}">
<label for="password">Password</label>
<input id="password" name="password" type="password" autocomplete="current-password" autofocus required>
<button type="submit">Continue</button>
</form>
</main>
</body>
</html>
`))

func loginColors(tokens map[string]string) map[string]template.CSS {
	colors := make(map[string]template.CSS, len(defaultColors))
	for role, fallback := range defaultColors {
		c := fallback
		if v, ok := tokens[role]; ok && validate.CSSColor(v) {
			c = v
		}
		colors[role] = template.CSS(c)
	}
	return colors
}

// RenderLoginPage writes the login form with the given status. Only
// colors that pass the hex check are interpolated as CSS.
func RenderLoginPage(w http.ResponseWriter, status int, page LoginPage) error {
	title := page.Title
	if title == "" {
		title = page.Site
	}

	var buf bytes.Buffer
	err := loginTemplate.Execute(&buf, loginView{
		Title:  title,
		Action: "/" + page.Site + "/_login",
		Error:  page.Error,
		Colors: loginColors(page.BrandTokens),
	})
	if err != nil {
		return err
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Security-Policy", LoginPageCSP)
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err = w.Write(buf.Bytes())
	return err
}
