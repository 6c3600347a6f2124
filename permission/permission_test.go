package permission

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestIsAllowed_OpenByDefault(t *testing.T) {
	member := &Member{UserID: "1"}
	if !Check(nil, nil, member) {
		t.Fatalf("expected member without roles or permissions to be allowed when no rule exists")
	}
}

func TestIsAllowed_NoMemberIsDenied(t *testing.T) {
	if Check(nil, nil, nil) {
		t.Fatalf("expected missing member to be denied")
	}
}

func TestIsAllowed_RoleOrPermission(t *testing.T) {
	rule := &AccessRule{
		Roles:       []string{"mod"},
		Permissions: []int64{discordgo.PermissionManageGuild},
	}

	if !IsAllowed(rule, &Member{Roles: []string{"mod"}}) {
		t.Fatalf("expected role holder without permissions to be allowed")
	}
	if !IsAllowed(rule, &Member{Permissions: discordgo.PermissionManageGuild}) {
		t.Fatalf("expected permission holder without role to be allowed")
	}
	if IsAllowed(rule, &Member{Roles: []string{"member"}, Permissions: discordgo.PermissionSendMessages}) {
		t.Fatalf("expected member with neither to be denied")
	}
}

func TestIsAllowed_AdministratorHoldsEveryFlag(t *testing.T) {
	rule := &AccessRule{Permissions: []int64{discordgo.PermissionBanMembers}}
	if !IsAllowed(rule, &Member{Permissions: Administrator}) {
		t.Fatalf("expected administrator to satisfy any permission flag")
	}
}

func TestIsAllowed_EmptyRuleDenies(t *testing.T) {
	if IsAllowed(&AccessRule{}, &Member{Permissions: discordgo.PermissionManageGuild}) {
		t.Fatalf("expected an explicit empty rule to deny")
	}
}

func TestResolve_CommandOverridesModule(t *testing.T) {
	module := &AccessRule{Roles: []string{"staff"}}
	command := &AccessRule{Roles: []string{"owner"}}

	if got := Resolve(command, module); got != command {
		t.Fatalf("expected command rule to be used exclusively")
	}
	if got := Resolve(nil, module); got != module {
		t.Fatalf("expected module rule as fallback")
	}
	if Check(command, module, &Member{Roles: []string{"staff"}}) {
		t.Fatalf("expected module role to be ignored when a command rule exists")
	}
}
