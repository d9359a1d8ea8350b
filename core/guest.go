package core

import (
	"strings"
	"unicode/utf8"
)

const subjectSeparator = " - "

func baseGuestName(name string) string {
	base, _, _ := strings.Cut(name, subjectSeparator)
	return base
}

// mergeGuestInfo folds visitor supplied hints into the room's guest fields.
// A value only replaces the stored one when it is more informative: a longer
// name or contact wins, and the first known subject is appended to the name.
func mergeGuestInfo(room *Room, info GuestInfo) bool {
	name := strings.TrimSpace(info.Name)
	contact := strings.TrimSpace(info.Contact)
	subject := strings.TrimSpace(info.Subject)
	updated := false

	if name != "" && (room.GuestName == "" ||
		utf8.RuneCountInString(name) > utf8.RuneCountInString(baseGuestName(room.GuestName))) {
		base := truncate(name, maxGuestName)
		if subject != "" {
			room.GuestName = truncate(base+subjectSeparator+truncate(subject, maxNameSubject), maxGuestName)
			room.GuestSubject = truncate(subject, maxGuestSubject)
		} else {
			room.GuestName = base
		}
		updated = true
	}

	if contact != "" && (room.GuestContact == "" ||
		utf8.RuneCountInString(contact) > utf8.RuneCountInString(room.GuestContact)) {
		room.GuestContact = truncate(contact, maxGuestContact)
		updated = true
	}

	if subject != "" && room.GuestSubject == "" {
		room.GuestSubject = truncate(subject, maxGuestSubject)
		if room.GuestName != "" && !strings.Contains(room.GuestName, subjectSeparator) {
			room.GuestName = truncate(baseGuestName(room.GuestName)+subjectSeparator+truncate(subject, maxNameSubject), maxGuestName)
		}
		updated = true
	}

	return updated
}
