package dashboard

const indexPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Study Group Assistant</title>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 60rem; }
section { border: 1px solid #ccc; border-radius: 6px; padding: 1rem; margin-bottom: 1rem; }
pre { background: #f6f6f6; padding: .75rem; min-height: 4rem; max-height: 24rem; overflow: auto; white-space: pre-wrap; }
textarea { width: 100%; }
.running { color: #b36b00; }
</style>
</head>
<body>
<h1>Study Group Assistant</h1>

<section id="assignments">
<h2>Assignments &amp; study group</h2>
<button onclick="post('/api/run-assignments')">Run extraction</button>
<button onclick="post('/api/clear/assignments')">Clear</button>
<span class="state"></span>
<pre></pre>
</section>

<section id="booking">
<h2>Room booking</h2>
<textarea id="booking-json" rows="4" placeholder='{"booking_date": "2025-11-27", "start_time": "14:00"}'></textarea>
<button onclick="post('/api/book-room', document.getElementById('booking-json').value || null)">Book room</button>
<button onclick="post('/api/clear/booking')">Clear</button>
<span class="state"></span>
<pre></pre>
</section>

<section id="llm">
<h2>Plan</h2>
<textarea id="query" rows="3" placeholder="What should our group focus on this week?"></textarea>
<button onclick="post('/api/query-llm', JSON.stringify({query: document.getElementById('query').value}))">Ask</button>
<button onclick="post('/api/clear/llm')">Clear</button>
<a href="/plan" target="_blank">Latest plan</a>
<span class="state"></span>
<pre></pre>
</section>

<script>
async function post(url, body) {
  const res = await fetch(url, {method: 'POST', headers: {'Content-Type': 'application/json'}, body: body});
  const data = await res.json();
  if (data.error) alert(data.error);
  refresh();
}
async function refresh() {
  const res = await fetch('/api/status');
  const status = await res.json();
  for (const [kind, s] of Object.entries(status)) {
    const el = document.getElementById(kind);
    if (!el) continue;
    el.querySelector('pre').textContent = s.output;
    const state = el.querySelector('.state');
    state.textContent = s.running ? 'running' : (s.last_run ? 'last run ' + s.last_run : '');
    state.className = 'state' + (s.running ? ' running' : '');
  }
}
refresh();
setInterval(refresh, 2000);
</script>
</body>
</html>
`

const planPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Study plan</title>
<style>body { font-family: system-ui, sans-serif; margin: 2rem auto; max-width: 50rem; line-height: 1.5; }</style>
</head>
<body>
<p><small>Generated %s</small></p>
%s
</body>
</html>
`
