package report

import (
	"bytes"
	"html/template"
)

func newBuffer() *bytes.Buffer { return &bytes.Buffer{} }

var sessionTmpl = template.Must(template.New("session").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>session {{.SessionID}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2em; color: #222; }
h1 { font-size: 1.4em; }
.cards { display: flex; gap: 1em; margin: 1em 0; }
.card { border: 1px solid #ddd; border-radius: 6px; padding: 0.8em 1.4em; min-width: 8em; }
.card .num { font-size: 1.8em; font-weight: bold; }
.successful .num { color: #2e7d32; }
.partial .num { color: #f9a825; }
.failed .num { color: #c62828; }
table { border-collapse: collapse; margin-top: 1em; }
th, td { border: 1px solid #ddd; padding: 0.4em 0.9em; text-align: left; }
th { background: #f5f5f5; }
tr.status-partial td.status { color: #f9a825; }
tr.status-failed td.status { color: #c62828; }
tr.status-successful td.status { color: #2e7d32; }
.meta { color: #666; font-size: 0.9em; }
</style>
</head>
<body>
<h1>Session {{.SessionID}}{{if .DryRun}} (dry run){{end}}</h1>
<p class="meta">user {{.User}} &middot; started {{.StartedAt.Format "2006-01-02 15:04:05 MST"}} &middot; ran {{.Duration}} &middot; {{.Total}} ledger entries</p>
<div class="cards">
  <div class="card successful"><div class="num">{{.Successful}}</div>successful</div>
  <div class="card partial"><div class="num">{{.Partial}}</div>partial</div>
  <div class="card failed"><div class="num">{{.FailedAcct}}</div>failed</div>
</div>
<table>
<tr><th>account</th><th>status</th><th>resource type</th><th>created</th><th>retired</th><th>failed</th></tr>
{{range $acct := .Accounts}}{{range $row := $acct.ByType}}
<tr class="status-{{$acct.Status}}">
  <td>{{$acct.AccountName}}</td>
  <td class="status">{{$acct.Status}}</td>
  <td>{{$row.ResourceType}}</td>
  <td>{{$row.Created}}</td>
  <td>{{$row.Retired}}</td>
  <td>{{$row.Failed}}</td>
</tr>
{{end}}{{end}}
</table>
</body>
</html>
`))

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>infra-setup dashboard</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2em; color: #222; }
h1 { font-size: 1.4em; }
.session { margin: 1.2em 0; }
.session .id { font-weight: bold; }
.session .meta { color: #666; font-size: 0.9em; margin-left: 0.6em; }
.bar { display: flex; height: 1.2em; width: 32em; border-radius: 3px; overflow: hidden; margin-top: 0.3em; background: #eee; }
.bar .ok { background: #2e7d32; }
.bar .bad { background: #c62828; }
.legend { color: #666; font-size: 0.85em; margin-top: 0.2em; }
</style>
</head>
<body>
<h1>Recent sessions</h1>
{{range .Sessions}}
<div class="session">
  <span class="id">{{.SessionID}}</span>{{if .DryRun}} <span class="meta">(dry run)</span>{{end}}
  <span class="meta">{{.StartedAt.Format "2006-01-02 15:04 MST"}} &middot; user {{.User}}</span>
  <div class="bar">
    <div class="ok" style="width: {{.OKPct}}%"></div>
    <div class="bad" style="width: {{.FailPct}}%"></div>
  </div>
  <div class="legend">{{.OK}} succeeded &middot; {{.Fail}} failed</div>
</div>
{{else}}
<p>No sessions recorded yet.</p>
{{end}}
</body>
</html>
`))
