package dispatch

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"clanwatch/internal/reminder"
)

// Message rendering is deliberately thin: the reminder's template plus a
// handful of placeholders filled from the cycle and recipient snapshot.
// Anything richer (embeds, media) belongs to the command layer.

const defaultTemplate = "{event} for {group} ends in {ends_in}!\n{mentions}"

func renderJob(j Job) string {
	tpl := strings.TrimSpace(j.Reminder.Message)
	if tpl == "" {
		tpl = defaultTemplate
	}

	r := strings.NewReplacer(
		"{event}", eventLabel(j.Cycle.Family),
		"{group}", string(j.Cycle.Group),
		"{ends_in}", humanDuration(time.Until(j.Cycle.EndsAt)),
		"{mentions}", mentionList(j.Recipients),
	)
	return r.Replace(tpl)
}

// segment is one platform-sized message text plus the jobs rendered into it,
// so delivery outcomes can be settled per job even when a channel batch spans
// several texts.
type segment struct {
	text string
	jobs []Job
}

// renderBatch renders every job, joins them, and splits the result into
// segments on job boundaries.
func renderBatch(jobs []Job, maxLen int) []segment {
	var segs []segment
	var cur strings.Builder
	var curJobs []Job

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		segs = append(segs, segment{text: cur.String(), jobs: curJobs})
		cur.Reset()
		curJobs = nil
	}

	for _, j := range jobs {
		msg := truncate(renderJob(j), maxLen)
		if cur.Len() > 0 && cur.Len()+2+len(msg) > maxLen {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(msg)
		curJobs = append(curJobs, j)
	}
	flush()
	return segs
}

// truncate cuts at a rune boundary. Member names are routinely non-ASCII; a
// mid-rune byte cut produces invalid UTF-8 the platform rejects.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func eventLabel(f reminder.EventFamily) string {
	switch f {
	case reminder.FamilyWar:
		return "War"
	case reminder.FamilyRaid:
		return "Raid weekend"
	case reminder.FamilyPoints:
		return "Clan games"
	}
	return string(f)
}

func mentionList(members []reminder.Member) string {
	if len(members) == 0 {
		return ""
	}
	names := make([]string, 0, len(members))
	for _, m := range members {
		name := m.Name
		if name == "" {
			name = m.Tag
		}
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func humanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}
