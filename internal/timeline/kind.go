package timeline

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownActivityKind = errors.New("timeline: unknown activity kind")

// ActivityKind names one supported behavior a handler drives.
type ActivityKind string

const (
	KindBrowserFirefox  ActivityKind = "BrowserFirefox"
	KindBrowserChrome   ActivityKind = "BrowserChrome"
	KindCommand         ActivityKind = "Command"
	KindNotepad         ActivityKind = "Notepad"
	KindOutlook         ActivityKind = "Outlook"
	KindWord            ActivityKind = "Word"
	KindExcel           ActivityKind = "Excel"
	KindPowerPoint      ActivityKind = "PowerPoint"
	KindNpcSystem       ActivityKind = "NpcSystem"
	KindReboot          ActivityKind = "Reboot"
	KindCurl            ActivityKind = "Curl"
	KindClicks          ActivityKind = "Clicks"
	KindWatcher         ActivityKind = "Watcher"
	KindLightWord       ActivityKind = "LightWord"
	KindLightExcel      ActivityKind = "LightExcel"
	KindLightPowerPoint ActivityKind = "LightPowerPoint"
	KindPowerShell      ActivityKind = "PowerShell"
	KindBash            ActivityKind = "Bash"
	KindPrint           ActivityKind = "Print"
	KindSsh             ActivityKind = "Ssh"
	KindSftp            ActivityKind = "Sftp"
	KindPidgin          ActivityKind = "Pidgin"
	KindRdp             ActivityKind = "Rdp"
	KindWmi             ActivityKind = "Wmi"
	KindOutlookv2       ActivityKind = "Outlookv2"
	KindFtp             ActivityKind = "Ftp"
	KindAws             ActivityKind = "Aws"
	KindAzure           ActivityKind = "Azure"
)

var allKinds = []ActivityKind{
	KindBrowserFirefox, KindBrowserChrome, KindCommand, KindNotepad, KindOutlook,
	KindWord, KindExcel, KindPowerPoint, KindNpcSystem, KindReboot, KindCurl,
	KindClicks, KindWatcher, KindLightWord, KindLightExcel, KindLightPowerPoint,
	KindPowerShell, KindBash, KindPrint, KindSsh, KindSftp, KindPidgin, KindRdp,
	KindWmi, KindOutlookv2, KindFtp, KindAws, KindAzure,
}

// Kinds returns every member of the enumeration in declaration order.
func Kinds() []ActivityKind {
	out := make([]ActivityKind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseActivityKind resolves raw case-insensitively against the enumeration.
func ParseActivityKind(raw string) (ActivityKind, error) {
	v := strings.TrimSpace(raw)
	for _, k := range allKinds {
		if strings.EqualFold(string(k), v) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownActivityKind, raw)
}

// IsBrowser reports whether the kind drives a tabbed browser.
func (k ActivityKind) IsBrowser() bool {
	return k == KindBrowserFirefox || k == KindBrowserChrome
}

func (k ActivityKind) String() string {
	return string(k)
}

func (k ActivityKind) MarshalText() ([]byte, error) {
	return []byte(k), nil
}

func (k *ActivityKind) UnmarshalText(text []byte) error {
	parsed, err := ParseActivityKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
