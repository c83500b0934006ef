package tracker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const minutesPerDay = 24 * 60

// clockPattern matches a leading 12-hour clock; everything after the
// AM/PM token is the suffix, preserved verbatim.
var clockPattern = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*([AaPp][Mm])`)

// AdvanceClock adds minutes to the leading H:MM AM/PM portion of a
// free-text time string, wrapping modulo 24 hours. Any trailing suffix
// (date, era, weekday) is re-appended unchanged: advancing across midnight
// does not move the displayed date. Strings without a recognizable clock
// prefix are returned unchanged.
func AdvanceClock(timeString string, minutes int) string {
	m := clockPattern.FindStringSubmatch(timeString)
	if m == nil {
		return timeString
	}

	hour, err := strconv.Atoi(m[1])
	if err != nil || hour < 1 || hour > 12 {
		return timeString
	}
	minute, err := strconv.Atoi(m[2])
	if err != nil || minute > 59 {
		return timeString
	}

	hour24 := hour % 12
	if strings.EqualFold(m[3], "PM") {
		hour24 += 12
	}

	total := hour24*60 + minute + minutes
	total %= minutesPerDay
	if total < 0 {
		total += minutesPerDay
	}

	outHour24 := total / 60
	outMinute := total % 60
	period := "AM"
	if outHour24 >= 12 {
		period = "PM"
	}
	outHour := outHour24 % 12
	if outHour == 0 {
		outHour = 12
	}

	suffix := timeString[len(m[0]):]
	return fmt.Sprintf("%d:%02d %s%s", outHour, outMinute, period, suffix)
}
