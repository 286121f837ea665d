package constants

const (
	ViewData     = "view_data"
	InviteUser   = "invite_user"
	RemoveUser   = "remove_user"
	AssignRole   = "assign_role"
	ManageAdmins = "manage_admins"
	UpdateOrg    = "update_org"
)
