package models

import "strings"

type Course struct {
	ID        int64  `json:"id" db:"id"`
	FullName  string `json:"fullname" db:"fullname"`
	ShortName string `json:"shortname" db:"shortname"`
}

type Role struct {
	ID        int64     `json:"id" db:"id"`
	ShortName string    `json:"shortname" db:"shortname"`
	Name      string    `json:"name" db:"name"`
	Archetype Archetype `json:"archetype" db:"archetype"`
}

// DisplayName falls back to the short name for roles created without a label.
func (r Role) DisplayName() string {
	if name := strings.TrimSpace(r.Name); name != "" {
		return name
	}
	return r.ShortName
}
