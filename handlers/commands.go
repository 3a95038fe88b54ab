package handlers

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/phonginreallife/inres-oncall/internal/apperr"
)

// Command is a bot slash command without the leading slash.
type Command string

const (
	CmdStart       Command = "start"
	CmdSetAdmin    Command = "setadmin"
	CmdSetLead     Command = "setlead"
	CmdAddUser     Command = "adduser"
	CmdGetRoles    Command = "getroles"
	CmdAllRoles    Command = "allroles"
	CmdSetRoster   Command = "setroster"
	CmdCancel      Command = "cancel"
	CmdViewRoster  Command = "viewroster"
	CmdTodayRoster Command = "todayroster"
	CmdCritical    Command = "critical"
	CmdHelp        Command = "help"
)

// ArgSchema is the argument shape a command accepts.
type ArgSchema int

const (
	ArgsNone ArgSchema = iota
	// <id> <phone> <full name...>
	ArgsIDPhoneName
	// <id> <phone> <full name...> <team>
	ArgsIDPhoneNameTeam
	// <id>
	ArgsID
	// @team
	ArgsTeam
	// @team <text...>
	ArgsTeamText
)

// CommandSpec describes one command for parsing and for /help.
type CommandSpec struct {
	Command     Command
	Icon        string
	Schema      ArgSchema
	Usage       string
	Description string
	WhoCanUse   string
	Example     string
}

// Commands is the catalogue in /help order.
var Commands = []CommandSpec{
	{CmdStart, "🔄", ArgsNone, "/start",
		"Initializes the bot, registers new users, or welcomes verified users with their roles and team.",
		"Anyone", "/start"},
	{CmdSetAdmin, "🔧", ArgsIDPhoneName, "/setadmin <telegram_id> <phone_number> <full_name>",
		"Assigns a user as an admin. Restricted to the designated admin.",
		"Designated Admin (AUTHORIZED_TELEGRAM_ID)", "/setadmin 123456789 +912345678901 Suresh Admin"},
	{CmdSetLead, "🔧", ArgsIDPhoneNameTeam, "/setlead <telegram_id> <phone_number> <full_name> <team>",
		"Assigns a user as a team lead for a specific team.",
		"Admins", "/setlead 111222333 +919876543210 Jane Doe linux"},
	{CmdAddUser, "👥", ArgsIDPhoneNameTeam, "/adduser <telegram_id> <phone_number> <full_name> <team>",
		"Adds a user to a team with their Telegram ID, phone number, and name.",
		"Admins, Leads", "/adduser 987654321 +919876543201 Ramesh linux"},
	{CmdGetRoles, "🔍", ArgsID, "/getroles <telegram_id>",
		"Displays roles, phone number, and team details for a specific user by Telegram ID.",
		"Admins, Leads", "/getroles 123456789"},
	{CmdAllRoles, "👥", ArgsTeam, "/allroles @team_name",
		"Lists all members of a team with their roles, phone numbers, and team details.",
		"Admins, Leads", "/allroles @linux"},
	{CmdSetRoster, "📅", ArgsNone, "/setroster",
		"Sets the on-call roster for a team by selecting dates and assigning primary/secondary users.",
		"Leads", "/setroster (follow interactive prompts)"},
	{CmdCancel, "❎", ArgsNone, "/cancel",
		"Abandons a roster setup in progress without saving anything.",
		"Leads", "/cancel"},
	{CmdViewRoster, "📅", ArgsTeam, "/viewroster @team_name",
		"Displays all rosters for a team, including primary/secondary names, phone numbers, and Telegram deeplinks.",
		"Anyone", "/viewroster @linux"},
	{CmdTodayRoster, "📅", ArgsTeam, "/todayroster @team_name",
		"Shows today's roster for a team with primary/secondary names, phone numbers, and Telegram deeplinks.",
		"Anyone", "/todayroster @linux"},
	{CmdCritical, "🚨", ArgsTeamText, "/critical @team_name <issue>",
		"Reports a critical incident, notifies the on-call team, and escalates if no response.",
		"Anyone", "/critical @linux w16 down"},
	{CmdHelp, "❓", ArgsNone, "/help",
		"Displays a concise list of all commands with basic details.",
		"Anyone", "/help"},
}

var commandIndex = func() map[Command]CommandSpec {
	m := make(map[Command]CommandSpec, len(Commands))
	for _, c := range Commands {
		m[c.Command] = c
	}
	return m
}()

// Lookup returns the definition of a known command.
func Lookup(cmd Command) (CommandSpec, bool) {
	spec, ok := commandIndex[cmd]
	return spec, ok
}

// Invocation is a parsed, validated command.
type Invocation struct {
	Command  Command
	ID       int64
	Phone    string
	FullName string
	Team     string
	Text     string
}

var (
	numericID  = regexp.MustCompile(`^\d+$`)
	phoneRe    = regexp.MustCompile(`^\+\d+$`)
	teamNameRe = regexp.MustCompile(`^\w+$`)
)

// ParseCommand parses a chat message. It returns nil, nil for text that is not a
// known command, and a validation error carrying the usage for bad arguments.
// A "@botname" suffix on the command is accepted only when it names this bot.
func ParseCommand(text, botUsername string) (*Invocation, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return nil, nil
	}
	name, target, _ := strings.Cut(strings.TrimPrefix(fields[0], "/"), "@")
	if target != "" && botUsername != "" && !strings.EqualFold(target, botUsername) {
		return nil, nil
	}
	spec, ok := Lookup(Command(strings.ToLower(name)))
	if !ok {
		return nil, nil
	}
	return spec.parseArgs(fields[1:])
}

func (s CommandSpec) usageError() error {
	return apperr.Validation("⚠️ Usage: %s\nExample: %s", s.Usage, s.Example)
}

func (s CommandSpec) parseArgs(args []string) (*Invocation, error) {
	inv := &Invocation{Command: s.Command}

	switch s.Schema {
	case ArgsNone:
		return inv, nil

	case ArgsIDPhoneName, ArgsIDPhoneNameTeam:
		want := 3
		if s.Schema == ArgsIDPhoneNameTeam {
			want = 4
		}
		if len(args) < want {
			return nil, s.usageError()
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		if !phoneRe.MatchString(args[1]) {
			return nil, apperr.Validation("Invalid phone number format. Use format: +1234567890")
		}
		inv.ID, inv.Phone = id, args[1]
		name := args[2:]
		if s.Schema == ArgsIDPhoneNameTeam {
			team, err := parseTeam(name[len(name)-1])
			if err != nil {
				return nil, err
			}
			inv.Team = team
			name = name[:len(name)-1]
		}
		inv.FullName = strings.Join(name, " ")
		return inv, nil

	case ArgsID:
		if len(args) < 1 {
			return nil, s.usageError()
		}
		id, err := parseID(args[0])
		if err != nil {
			return nil, err
		}
		inv.ID = id
		return inv, nil

	case ArgsTeam, ArgsTeamText:
		if len(args) < 1 || (s.Schema == ArgsTeamText && len(args) < 2) {
			return nil, s.usageError()
		}
		team, err := parseTeam(args[0])
		if err != nil {
			return nil, err
		}
		inv.Team = team
		if s.Schema == ArgsTeamText {
			inv.Text = strings.Join(args[1:], " ")
		}
		return inv, nil
	}
	return nil, fmt.Errorf("unhandled argument schema %d", s.Schema)
}

func parseID(raw string) (int64, error) {
	if !numericID.MatchString(raw) {
		return 0, apperr.Validation("Invalid Telegram ID format. Use numeric ID.")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperr.Validation("Invalid Telegram ID format. Use numeric ID.")
	}
	return id, nil
}

// parseTeam accepts "@team" or "team" and lower-cases it.
func parseTeam(raw string) (string, error) {
	team := strings.ToLower(strings.TrimPrefix(raw, "@"))
	if !teamNameRe.MatchString(team) {
		return "", apperr.Validation("Invalid team name %q. Use letters, digits or underscores.", raw)
	}
	return team, nil
}

// markdownEscaper escapes the characters legacy Telegram Markdown treats as markup.
var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// HelpText renders the command catalogue as Markdown.
func HelpText() string {
	var b strings.Builder
	b.WriteString("📖 *All Commands Overview*\n\nHere's a comprehensive list of all bot commands with their details:\n\n")
	for i, c := range Commands {
		fmt.Fprintf(&b, "%d. %s */%s*\n", i+1, c.Icon, c.Command)
		fmt.Fprintf(&b, "   - *Description*: %s\n", markdownEscaper.Replace(c.Description))
		fmt.Fprintf(&b, "   - *Usage*: %s\n", markdownEscaper.Replace(c.Usage))
		fmt.Fprintf(&b, "   - *Who Can Use*: %s\n", markdownEscaper.Replace(c.WhoCanUse))
		fmt.Fprintf(&b, "   - *Example*: %s\n\n", markdownEscaper.Replace(c.Example))
	}
	b.WriteString("💡 *Pro Tip*: Phone numbers must start with '+' (e.g., +919876543210). ")
	b.WriteString("For loud notifications, configure a loud sound in Telegram settings for the bot's chat.\n\n")
	b.WriteString("For support, contact your admin or lead.")
	return b.String()
}
