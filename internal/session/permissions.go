package session

// PermissionMap holds a key per classId and per classId+action, e.g.
// "Fleet" and "FleetREAD".
type PermissionMap map[string]bool

func BuildPermissionMap(perms []Permission) PermissionMap {
	m := make(PermissionMap, len(perms))
	for _, p := range perms {
		m[p.ClassID] = true
		for _, action := range p.Actions {
			m[p.ClassID+action] = true
		}
	}
	return m
}

// Can reports whether the session grants action on classID; an empty action
// asks about the class.
func (m PermissionMap) Can(classID, action string) bool {
	return m[classID+action]
}

func (m PermissionMap) Equal(o PermissionMap) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// RequiresPasswordChange detects the permission set the server grants when
// the password must be changed before anything else.
func RequiresPasswordChange(perms []Permission) bool {
	return len(perms) == 1 && perms[0].ClassID == "Profile" && len(perms[0].Actions) == 0
}
