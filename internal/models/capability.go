package models

// Archetype is the base role type that capabilities are granted to.
type Archetype string

const (
	ArchetypeManager        Archetype = "manager"
	ArchetypeEditingTeacher Archetype = "editingteacher"
	ArchetypeTeacher        Archetype = "teacher"
	ArchetypeStudent        Archetype = "student"
	ArchetypeUser           Archetype = "user"
)

type Capability string

const (
	// CapConfig allows adding or editing the invitation instance of a course.
	CapConfig Capability = "enrol/invitation:config"
	// CapEnrol allows sending invitations.
	CapEnrol Capability = "enrol/invitation:enrol"
	// CapManage allows revoking and extending invitations, viewing history and editing enrolments.
	CapManage Capability = "enrol/invitation:manage"
	// CapUnenrol allows removing anybody's invitation enrolment.
	CapUnenrol Capability = "enrol/invitation:unenrol"
	// CapUnenrolSelf allows a user to leave a course they joined by invitation.
	CapUnenrolSelf Capability = "enrol/invitation:unenrolself"
)

var capabilityArchetypes = map[Capability][]Archetype{
	CapConfig:      {ArchetypeManager},
	CapEnrol:       {ArchetypeManager, ArchetypeEditingTeacher},
	CapManage:      {ArchetypeManager, ArchetypeEditingTeacher},
	CapUnenrol:     {ArchetypeManager, ArchetypeEditingTeacher},
	CapUnenrolSelf: {ArchetypeUser},
}

func IsValidArchetype(a Archetype) bool {
	switch a {
	case ArchetypeManager, ArchetypeEditingTeacher, ArchetypeTeacher, ArchetypeStudent, ArchetypeUser:
		return true
	}
	return false
}

// Allows reports whether any of the archetypes is granted the capability.
func Allows(archetypes []Archetype, c Capability) bool {
	granted, ok := capabilityArchetypes[c]
	if !ok {
		return false
	}
	for _, have := range archetypes {
		for _, want := range granted {
			if have == want {
				return true
			}
		}
	}
	return false
}
