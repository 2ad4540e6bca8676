package challenge

import (
	"bytes"
	"fmt"
	"html/template"
)

const pageLayout = `{{define "layout"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{template "title" .}}</title>
<style>
body{font-family:system-ui,sans-serif;background:#f5f5f5;display:flex;align-items:center;justify-content:center;min-height:100vh;margin:0}
.challenge-container{background:#fff;border-radius:8px;padding:2rem;max-width:420px;box-shadow:0 2px 8px rgba(0,0,0,.1);text-align:center}
.challenge-problem{font-size:1.5rem;font-weight:600}
.challenge-error{color:#b00020;min-height:1.2em}
</style>
</head>
<body>
<div class="challenge-container">
{{template "body" .}}
</div>
</body>
</html>{{end}}`

const submitScript = `{{define "submit"}}<script>
async function submitChallenge(payload) {
  const response = await fetch(window.location.href, {
    method: 'POST',
    headers: {'Content-Type': 'application/json'},
    body: JSON.stringify(Object.assign({challengeId: {{.ID}}}, payload))
  });
  const result = await response.json();
  if (result.success) {
    window.location.reload();
    return;
  }
  document.getElementById('challenge-error').textContent = result.error || 'Incorrect answer. Please try again.';
}
</script>{{end}}`

var pageTemplates = map[Type]string{
	TypeJS: `{{define "title"}}Security Check{{end}}
{{define "body"}}<h2>Security Check</h2>
<p>Please solve this simple math problem to continue:</p>
<p class="challenge-problem">{{.Data.Problem}} = ?</p>
<form id="challenge-form">
<input type="text" name="answer" inputmode="numeric" required autofocus>
<button type="submit">Submit</button>
</form>
<p id="challenge-error" class="challenge-error"></p>
{{template "submit" .}}
<script>
document.getElementById('challenge-form').onsubmit = function (e) {
  e.preventDefault();
  submitChallenge({answer: e.target.answer.value});
};
</script>{{end}}`,

	TypeCaptcha: `{{define "title"}}Security Check{{end}}
{{define "body"}}<h2>Security Check</h2>
<p>Please complete the CAPTCHA to continue:</p>
<div id="recaptcha-container"></div>
<p id="challenge-error" class="challenge-error"></p>
{{template "submit" .}}
<script src="https://www.google.com/recaptcha/api.js?render={{.Data.SiteKey}}"></script>
<script>
grecaptcha.ready(function () {
  grecaptcha.execute({{.Data.SiteKey}}, {action: 'submit'}).then(function (token) {
    submitChallenge({token: token});
  });
});
</script>{{end}}`,

	TypeRateLimit: `{{define "title"}}Rate Limit{{end}}
{{define "body"}}<h2>Rate Limit</h2>
<p>{{.Data.Message}}</p>
<p>This page will refresh automatically when the wait time is over.</p>
<script>
setTimeout(function () { window.location.reload(); }, {{.Data.WaitTime}} * 1000);
</script>{{end}}`,

	TypeBlock: `{{define "title"}}Access Blocked{{end}}
{{define "body"}}<h2>Access Blocked</h2>
<p>Your access has been temporarily blocked due to suspicious activity.</p>
<p>Please try again in {{minutes .Data.Duration}} minutes.</p>{{end}}`,
}

var pages = compilePages()

func compilePages() map[Type]*template.Template {
	funcs := template.FuncMap{
		"minutes": func(seconds int64) int64 { return (seconds + 59) / 60 },
	}
	out := make(map[Type]*template.Template, len(pageTemplates))
	for typ, body := range pageTemplates {
		t := template.Must(template.New(string(typ)).Funcs(funcs).Parse(pageLayout))
		template.Must(t.Parse(submitScript))
		template.Must(t.Parse(body))
		out[typ] = t
	}
	return out
}

// Page renders the interstitial HTML shown in place of the requested
// resource.
func Page(ch *Challenge) ([]byte, error) {
	t, ok := pages[ch.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, ch.Type)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", ch.Public()); err != nil {
		return nil, fmt.Errorf("failed to render challenge page: %w", err)
	}
	return buf.Bytes(), nil
}
