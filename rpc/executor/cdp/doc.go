// Package cdp implements executor.IActionExecutor on top of the Chrome
// DevTools Protocol using chromedp.
//
// The executor either attaches to a running browser (Options.RemoteURL, the
// DevTools websocket url) or launches one. Tabs are CDP page targets and are
// addressed by their target id in params.tabId. Without tabId the first page
// target is used.
//
// Supported actions:
//
//   - navigate: url, newTab, wait, timeoutMs (default 15000)
//   - getActiveTab
//   - screenshot: PNG of the visible area as data url
//   - click: selector | text | x,y, checked for checkboxes
//   - type: text, append, clear, submit
//   - getContent: format html | text | textFast | title, selector
//   - waitFor: selector | text | contains, timeout, interval
//   - fillForm: fields [{selector, value, checked}]
//
// DOM work runs as small scripts in the page. They report failures such as
// "Element not found" as plain strings, which reach the caller unchanged.
package cdp
