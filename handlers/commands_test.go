package handlers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonginreallife/inres-oncall/internal/apperr"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *Invocation
	}{
		{"plain text", "hello there", nil},
		{"empty", "   ", nil},
		{"unknown command", "/deploy now", nil},
		{"other bot", "/help@someone_else_bot", nil},
		{"start", "/start", &Invocation{Command: CmdStart}},
		{"cancel", "/cancel", &Invocation{Command: CmdCancel}},
		{"own bot suffix", "/help@Inres_Oncall_Bot", &Invocation{Command: CmdHelp}},
		{"upper case command", "/HELP", &Invocation{Command: CmdHelp}},
		{
			"setadmin with multi word name", "/setadmin 123 +91234 Suresh Kumar Admin",
			&Invocation{Command: CmdSetAdmin, ID: 123, Phone: "+91234", FullName: "Suresh Kumar Admin"},
		},
		{
			"setlead takes last word as team", "/setlead 111 +9876 Jane Doe Linux",
			&Invocation{Command: CmdSetLead, ID: 111, Phone: "+9876", FullName: "Jane Doe", Team: "linux"},
		},
		{
			"adduser with single name", "/adduser 987 +9876 Ramesh @db",
			&Invocation{Command: CmdAddUser, ID: 987, Phone: "+9876", FullName: "Ramesh", Team: "db"},
		},
		{"getroles", "/getroles 42", &Invocation{Command: CmdGetRoles, ID: 42}},
		{"allroles strips at", "/allroles @Linux", &Invocation{Command: CmdAllRoles, Team: "linux"}},
		{"viewroster without at", "/viewroster linux", &Invocation{Command: CmdViewRoster, Team: "linux"}},
		{
			"critical keeps issue text", "/critical @linux w16   down hard",
			&Invocation{Command: CmdCritical, Team: "linux", Text: "w16 down hard"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.text, "inres_oncall_bot")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		message string
	}{
		{"setadmin missing name", "/setadmin 123 +91234", "⚠️ Usage: /setadmin <telegram_id> <phone_number> <full_name>\nExample: /setadmin 123456789 +912345678901 Suresh Admin"},
		{"adduser missing team", "/adduser 1 +1 Ramesh", "⚠️ Usage: /adduser <telegram_id> <phone_number> <full_name> <team>\nExample: /adduser 987654321 +919876543201 Ramesh linux"},
		{"non numeric id", "/getroles abc", "Invalid Telegram ID format. Use numeric ID."},
		{"negative id", "/setlead -5 +1 Jane linux", "Invalid Telegram ID format. Use numeric ID."},
		{"phone without plus", "/setlead 5 12345 Jane linux", "Invalid phone number format. Use format: +1234567890"},
		{"critical without issue", "/critical @linux", "⚠️ Usage: /critical @team_name <issue>\nExample: /critical @linux w16 down"},
		{"bad team", "/viewroster @li-nux", `Invalid team name "@li-nux". Use letters, digits or underscores.`},
		{"missing team", "/todayroster", "⚠️ Usage: /todayroster @team_name\nExample: /todayroster @linux"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.text, "inres_oncall_bot")
			assert.Nil(t, got)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, tt.message, err.Error())
		})
	}
}

func TestHelpText(t *testing.T) {
	help := HelpText()
	for i, c := range Commands {
		assert.Contains(t, help, "*/"+string(c.Command)+"*", "command %d", i)
	}
	// underscores in usage lines must not open italics
	assert.Contains(t, help, `@team\_name`)
	assert.NotContains(t, help, "<telegram_id>")
	assert.True(t, strings.HasSuffix(help, "For support, contact your admin or lead."))
}

func TestLookup(t *testing.T) {
	spec, ok := Lookup(CmdCritical)
	require.True(t, ok)
	assert.Equal(t, ArgsTeamText, spec.Schema)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}
