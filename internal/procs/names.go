package procs

import (
	"runtime"
	"strings"

	"github.com/danmuck/ghostline/internal/timeline"
)

// ProcessNames returns the native process family an activity kind drives.
// The first entry is the primary, monitorable process. Kinds without a
// native family return nil. Shell kinds only map on Windows, where the
// console host is owned by the agent; elsewhere their names are shared with
// the rest of the host.
func ProcessNames(kind timeline.ActivityKind) []string {
	windows := runtime.GOOS == "windows"
	switch kind {
	case timeline.KindBrowserChrome:
		return []string{"chrome", "chromedriver"}
	case timeline.KindBrowserFirefox:
		return []string{"firefox", "geckodriver"}
	case timeline.KindCommand:
		if windows {
			return []string{"cmd"}
		}
		return nil
	case timeline.KindPowerShell:
		if windows {
			return []string{"powershell"}
		}
		return nil
	case timeline.KindWord, timeline.KindLightWord:
		return []string{"WINWORD"}
	case timeline.KindExcel, timeline.KindLightExcel:
		return []string{"EXCEL"}
	case timeline.KindPowerPoint, timeline.KindLightPowerPoint:
		return []string{"POWERPNT"}
	case timeline.KindOutlook, timeline.KindOutlookv2:
		return []string{"OUTLOOK"}
	case timeline.KindNotepad:
		return []string{"notepad"}
	default:
		return nil
	}
}

// PrimaryProcess returns the monitorable process name for kind, or "".
func PrimaryProcess(kind timeline.ActivityKind) string {
	names := ProcessNames(kind)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// normalizeName folds case and drops a trailing .exe so "EXCEL" matches
// "excel.exe".
func normalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(n, ".exe")
}

func sameName(a, b string) bool {
	return normalizeName(a) == normalizeName(b)
}
