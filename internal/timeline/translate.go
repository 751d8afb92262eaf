package timeline

import (
	"regexp"
	"strconv"
	"strings"
)

var quoted = regexp.MustCompile(`"([^"]*)"`)

// TranslateScript converts a line-oriented browser automation script into one
// non-looping BrowserFirefox handler. Unrecognized lines are dropped.
//
// Recognized forms:
//
//	driver.Navigate()...("url")                  -> browse url
//	driver.Manage().Window.Size = new Size(w, h); -> manage.window.size w h
//	js.ExecuteScript("...")                       -> js.executescript script
//	driver.FindElement(By.LinkText("x")).Click(); -> click.by.linktext x
//	driver.FindElement(By.Id("x")).Click();       -> click.by.id x
//	driver.FindElement(By.Name("x")).Click();     -> click.by.name x
//	driver.FindElement(By.CssSelector("x")).Click(); -> click.by.cssselector x
func TranslateScript(script string) Handler {
	h := Handler{
		Kind:    KindBrowserFirefox,
		Initial: "about:blank",
		Loop:    false,
		Events:  []Event{},
	}
	for _, line := range strings.Split(script, "\n") {
		ev, ok := translateLine(strings.TrimSpace(line))
		if !ok {
			continue
		}
		h.Events = append(h.Events, ev)
	}
	return h
}

func translateLine(line string) (Event, bool) {
	ev := Event{
		DelayBefore: Millis(0),
		DelayAfter:  Millis(3000),
	}
	lower := strings.ToLower(line)

	switch {
	case line == "", strings.HasPrefix(lower, "driver.quit"):
		return Event{}, false
	case strings.HasPrefix(lower, "driver.navigate()"):
		ev.Command = "browse"
		ev.Args = quotedArg(line)
	case strings.HasPrefix(lower, "driver.manage().window.size"):
		w, h, ok := parseSize(line)
		if !ok {
			return Event{}, false
		}
		ev.Command = "manage.window.size"
		ev.Args = []any{w, h}
	case strings.HasPrefix(lower, "js.executescript("):
		ev.Command = "js.executescript"
		ev.Args = quotedArg(line)
	case strings.HasPrefix(lower, "driver.findelement(") && strings.HasSuffix(lower, ").click();"):
		rest := strings.TrimPrefix(lower, "driver.findelement(")
		switch {
		case strings.HasPrefix(rest, "by.linktext("):
			ev.Command = "click.by.linktext"
		case strings.HasPrefix(rest, "by.id"):
			ev.Command = "click.by.id"
		case strings.HasPrefix(rest, "by.name"):
			ev.Command = "click.by.name"
		case strings.HasPrefix(rest, "by.cssselector"):
			ev.Command = "click.by.cssselector"
		default:
			return Event{}, false
		}
		ev.Args = quotedArg(line)
	default:
		return Event{}, false
	}

	if ev.Command == "" || len(ev.Args) == 0 {
		return Event{}, false
	}
	return ev, true
}

func quotedArg(line string) []any {
	m := quoted.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	return []any{m[1]}
}

func parseSize(line string) (int, int, bool) {
	idx := strings.LastIndex(line, "Size(")
	if idx < 0 {
		return 0, 0, false
	}
	raw := line[idx+len("Size("):]
	raw = strings.TrimSuffix(strings.TrimSpace(raw), ";")
	raw = strings.TrimSuffix(raw, ")")
	raw = strings.ReplaceAll(raw, " ", "")
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, false
	}
	return w, h, true
}
