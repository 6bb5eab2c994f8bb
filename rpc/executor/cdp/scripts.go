package cdp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// The DOM side of every action runs as one self-contained expression in the
// page. Scripts return an object, failures are reported as {__error: "..."}.

const domHelpers = `
function fail(msg) { return { __error: msg }; }

function findByText(text) {
  if (!text) return null;
  var needle = String(text).toLowerCase();
  var root = document.body || document.documentElement;
  if (!root) return null;
  var walker = document.createTreeWalker(root, NodeFilter.SHOW_TEXT);
  for (var node = walker.nextNode(); node; node = walker.nextNode()) {
    if (node.nodeValue && node.nodeValue.toLowerCase().indexOf(needle) !== -1) {
      return node.parentElement || node.parentNode;
    }
  }
  return null;
}

function resolveElement(p) {
  if (p.selector) return document.querySelector(p.selector);
  if (p.text) return findByText(p.text);
  if (typeof p.x === "number" && typeof p.y === "number") return document.elementFromPoint(p.x, p.y);
  return null;
}

function summary(el) {
  if (!el) return null;
  var r = el.getBoundingClientRect();
  return {
    tag: el.tagName,
    id: el.id || null,
    classes: (typeof el.className === "string" && el.className) || null,
    text: el.innerText ? el.innerText.slice(0, 200) : null,
    rect: { x: r.x, y: r.y, width: r.width, height: r.height }
  };
}

function isContentEditable(el) {
  return el.isContentEditable || el.getAttribute("contenteditable") === "true";
}

function isEditable(el) {
  return !!el && (isContentEditable(el) || el.tagName === "INPUT" || el.tagName === "TEXTAREA");
}

function emit(el, type) {
  el.dispatchEvent(new Event(type, { bubbles: true }));
}

function focus(el, p) {
  if (p.scrollIntoView !== false && el.scrollIntoView) el.scrollIntoView({ block: "center", inline: "center" });
  if (el.focus) el.focus({ preventScroll: true });
}
`

const clickScript = `
var el = resolveElement(p);
if (!el) return fail("Element not found");
focus(el, p);

var type = el.type ? String(el.type).toLowerCase() : "";
if (el.tagName === "INPUT" && (type === "checkbox" || type === "radio")) {
  var before = el.checked;
  if (type === "radio") el.checked = true;
  else el.checked = p.checked !== undefined ? !!p.checked : !el.checked;
  if (el.checked !== before) emit(el, "change");
  return { clicked: true, checked: el.checked, element: summary(el) };
}

if (p.dispatchEvents !== false) {
  var init = { bubbles: true, cancelable: true, view: window };
  ["mouseover", "mousedown", "mouseup", "click"].forEach(function (t) {
    el.dispatchEvent(new MouseEvent(t, init));
  });
}
if (typeof el.click === "function") el.click();
return { clicked: true, element: summary(el) };
`

const typeScript = `
if (!p.text) return fail("Missing text parameter");
var el = resolveElement(p);
if (!el) return fail("Element not found");
if (!isEditable(el)) return fail("Target element is not editable");
focus(el, p);

var text = String(p.text);
var clear = p.clear !== false;
if (isContentEditable(el)) {
  if (clear) el.textContent = "";
  el.textContent = p.append ? el.textContent + text : text;
} else if ("value" in el) {
  if (clear) el.value = "";
  el.value = p.append ? el.value + text : text;
}

if (p.dispatchEvents !== false) {
  emit(el, "input");
  emit(el, "change");
}

if (p.submit) {
  if (el.form) {
    el.form.dispatchEvent(new Event("submit", { bubbles: true, cancelable: true }));
    if (typeof el.form.submit === "function") el.form.submit();
  } else {
    var key = { key: "Enter", code: "Enter", keyCode: 13, which: 13, bubbles: true, cancelable: true };
    el.dispatchEvent(new KeyboardEvent("keydown", key));
    el.dispatchEvent(new KeyboardEvent("keyup", key));
  }
}
return { typed: true, element: summary(el), length: text.length };
`

const getContentScript = `
var format = p.format || "html";
var target = p.selector ? document.querySelector(p.selector) : null;
if (format === "title") return { title: document.title, url: location.href };

var root = document.body || document.documentElement;
if (format === "text") return { text: (target || root).innerText, url: location.href, title: document.title };
if (format === "textFast") return { text: (target || root).textContent, url: location.href, title: document.title };
return { html: target ? target.outerHTML : document.documentElement.outerHTML, url: location.href, title: document.title };
`

const fillFormScript = `
if (!Array.isArray(p.fields)) return fail("Missing fields array");

var results = p.fields.map(function (f) {
  var el = f.selector ? document.querySelector(f.selector) : null;
  if (!el) return { selector: f.selector, ok: false, error: "Element not found" };
  try {
    var type = el.type ? String(el.type).toLowerCase() : "";
    if (el.tagName === "INPUT" && type === "checkbox") {
      var want = f.checked !== false && f.value !== false;
      if (el.checked !== want) { el.checked = want; emit(el, "change"); }
      return { selector: f.selector, ok: true, type: "checkbox", checked: el.checked };
    }
    if (el.tagName === "INPUT" && type === "radio") {
      el.checked = true;
      emit(el, "change");
      return { selector: f.selector, ok: true, type: "radio", checked: true };
    }
    if (el.tagName === "SELECT") {
      el.value = f.value || "";
      emit(el, "change");
      return { selector: f.selector, ok: true, type: "select", value: el.value };
    }
    if (el.tagName === "INPUT" || el.tagName === "TEXTAREA") {
      el.focus();
      el.value = f.value || "";
      emit(el, "input");
      emit(el, "change");
      return { selector: f.selector, ok: true, type: "text", value: el.value };
    }
    if (isContentEditable(el)) {
      el.focus();
      el.textContent = f.value || "";
      emit(el, "input");
      return { selector: f.selector, ok: true, type: "contenteditable", value: el.textContent };
    }
    return { selector: f.selector, ok: false, error: "Unknown field type" };
  } catch (e) {
    return { selector: f.selector, ok: false, error: e.message };
  }
});

var success = results.filter(function (r) { return r.ok; }).length;
return { filled: true, results: results, success: success, total: p.fields.length };
`

// probeScript is one check of waitFor. It returns {found:false} while the
// condition does not hold.
const probeScript = `
if (p.selector) {
  var el = document.querySelector(p.selector);
  if (el) return { found: true, selector: p.selector, element: summary(el) };
}
if (p.text) {
  var byText = findByText(p.text);
  if (byText) return { found: true, text: p.text, element: summary(byText) };
}
if (p.contains) {
  var root = document.body || document.documentElement;
  if (root && root.textContent && root.textContent.toLowerCase().indexOf(String(p.contains).toLowerCase()) !== -1) {
    return { found: true, contains: p.contains };
  }
}
return { found: false };
`

// buildScript wraps body into an expression evaluating it with params bound to p
func buildScript(body string, params map[string]any) (string, error) {
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to serialize params: %w", err)
	}
	return fmt.Sprintf("(function (p) {\n%s\n%s\n})(%s)", domHelpers, body, raw), nil
}

// scriptResult turns the raw value returned by a script into the action result
func scriptResult(raw []byte) (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unexpected script result: %w", err)
	}
	if msg, ok := result["__error"].(string); ok {
		return nil, errors.New(msg)
	}
	return result, nil
}
