package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/filter-control/internal/filter"
	"github.com/sweeney/filter-control/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"filterKey": filter.Key,
	"stateClass": func(s string) string {
		switch s {
		case "WAITING", "SINGLESHOT_WAITING", "SINGLESHOT_COMPLETE":
			return "ok"
		case "ACTIVE", "STARTING":
			return "busy"
		}
		return "err"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Filter Control</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.busy { color: orange; font-weight: bold; }
.err { color: red; font-weight: bold; }
.in { color: green; }
.out { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Filter Control<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>State</h2>
<table>
<tr><th>State</th><td id="state" class="{{stateClass (printf "%s" .State)}}">{{.State}}</td></tr>
<tr><th>Error</th><td id="error">{{.Error}}{{if .ErrorDetail}} ({{.ErrorDetail}}){{end}}</td></tr>
<tr><th>Attenuation</th><td id="attenuation">{{.Attenuation}} / {{.MaxAttenuation}}</td></tr>
<tr><th>Minimum reached</th><td>{{if .MinAttenuation}}yes{{else}}no{{end}}</td></tr>
<tr><th>Last received frame</th><td id="received">{{.LastReceivedFrame}}</td></tr>
<tr><th>Last processed frame</th><td id="processed">{{.LastProcessedFrame}}</td></tr>
</table>

<h2>Filters</h2>
<table>
{{range $i, $in := .Inserted}}<tr><th>{{filterKey $i}}</th><td class="{{if $in}}in{{else}}out{{end}}">{{if $in}}IN{{else}}OUT{{end}}</td></tr>
{{end}}</table>

<h2>Sources</h2>
<table>
<tr><th>Source</th><td>link / alive / last count / frame</td></tr>
{{range .Sources}}<tr><th>{{.Source}}</th><td><span class="{{if .Connected}}connected{{else}}disconnected{{end}}">{{if .Connected}}up{{else}}down{{end}}</span> / {{if .Alive}}alive{{else}}silent{{end}} / {{.LastCount}}{{if .Over}} (over){{end}}{{if .Under}} (under){{end}} / {{.LastFrame}}</td></tr>
{{end}}</table>

<h2>Settings</h2>
<table>
<tr><th>Mode</th><td>{{.Settings.Mode}}</td></tr>
<tr><th>Trigger</th><td>{{.Settings.Trigger}}</td></tr>
<tr><th>Pixel count threshold</th><td>{{.Settings.PixelCountThreshold}}</td></tr>
<tr><th>Decrease</th><td>{{if .Settings.AllowDecrease}}below {{.Settings.DecreasePixelCountThreshold}}{{else}}disabled{{end}}</td></tr>
<tr><th>Shutter closed position</th><td>{{.Settings.ShutterClosedPosition}}</td></tr>
</table>

<h2>Counters</h2>
<table>
<tr><th>Decision cycles</th><td>{{.Counters.Cycles}}</td></tr>
<tr><th>Moves</th><td>{{.Counters.Moves}}</td></tr>
<tr><th>Move failures</th><td>{{.Counters.MoveFailures}}</td></tr>
<tr><th>Emergencies</th><td>{{.Counters.Emergencies}}</td></tr>
<tr><th>Dropped (unknown / malformed / overflow)</th><td>{{.Counters.Unknown}} / {{.Counters.Malformed}} / {{.Counters.Overflow}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Motion</th><td>{{.Config.Motion}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Version</th><td>{{.Config.Version}}</td></tr>
<tr><th>Run</th><td>{{.RunID}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{.Config.HeartbeatMs}}ms</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/history.json">History</a> <a href="/metrics">Metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var stateEl = document.getElementById("state");

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  function connect() {
    var proto = location.protocol === "https:" ? "wss://" : "ws://";
    var ws = new WebSocket(proto + location.host + "/ws");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() {
      setDot("err", "offline");
      setTimeout(connect, 5000);
    };
    ws.onmessage = function(ev) {
      try {
        var s = JSON.parse(ev.data).status;
        stateEl.textContent = s.state;
        stateEl.className = /WAITING|COMPLETE/.test(s.state) ? "ok" : s.state === "ERROR" ? "err" : "busy";
        document.getElementById("error").textContent = s.error + (s.error_detail ? " (" + s.error_detail + ")" : "");
        document.getElementById("attenuation").textContent = s.current_attenuation + " / " + s.max_attenuation;
        document.getElementById("received").textContent = s.last_received_frame;
        document.getElementById("processed").textContent = s.last_processed_frame;
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
