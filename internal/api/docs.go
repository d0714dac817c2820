package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>titlesync API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <a href="/docs/events" style="
    position: fixed;
    top: 12px;
    right: 16px;
    z-index: 9999;
    background: #161b22;
    border: 1px solid #30363d;
    border-radius: 6px;
    color: #58a6ff;
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    font-size: 12px;
    padding: 5px 12px;
    text-decoration: none;
  ">Event Stream Docs →</a>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event Stream · titlesync</title>
  <style>
    body { margin: 0 auto; max-width: 820px; padding: 24px; background: #0d1117; color: #c9d1d9;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; line-height: 1.6; }
    a { color: #58a6ff; }
    code, pre { background: #161b22; border: 1px solid #30363d; border-radius: 6px; }
    code { padding: 1px 5px; }
    pre { padding: 12px; overflow-x: auto; }
    table { border-collapse: collapse; width: 100%; }
    td, th { border-bottom: 1px solid #30363d; padding: 6px 8px; text-align: left; }
  </style>
</head>
<body>
  <p><a href="/docs">← API reference</a></p>
  <h1>Event Stream</h1>
  <p><code>GET /api/v1/events</code> streams Server-Sent Events. Pass
  <code>?feeds=mutation,marker</code> to subscribe to a subset; omit it for every feed.
  A <code>: ping</code> comment is sent every 15 seconds.</p>
  <table>
    <tr><th>feed</th><th>payload</th></tr>
    <tr><td><code>mutation</code></td><td><code>{"tab_id","window_id","from","to","error"}</code> for each title change requested</td></tr>
    <tr><td><code>marker</code></td><td><code>{"action","window_id","label","tab_id"}</code> when a window label is set or cleared</td></tr>
    <tr><td><code>scan</code></td><td><code>{"scan_id","window_id","mutations","failed"}</code> after each window scan that changed titles</td></tr>
  </table>
  <h2>Example</h2>
  <pre>curl -N http://127.0.0.1:8188/api/v1/events?feeds=mutation</pre>
</body>
</html>`
