package format

import (
	"strings"

	"github.com/temirov/gitnotify/internal/vcs"
)

const (
	substitutionMarkerConstant    = '%'
	colorOpenMarkerConstant       = '('
	colorCloseMarkerConstant      = ')'
	templateLineSeparatorConstant = "\n"
	resetControlCodeConstant      = "\x0f"
	boldControlCodeConstant       = "\x02"
	underlineControlCodeConstant  = "\x1f"
	colorControlCodeConstant      = "\x03"
	spaceCharacterConstant        = " "
	// DefaultCommitTemplate renders "[name|branch|author] summary".
	DefaultCommitTemplate = "[%n|%b|%a] %m"
	// UnknownBranchName labels commits rendered outside of a watched branch.
	UnknownBranchName = "unknown"
)

type formatterState int

const (
	formatterStateNormal formatterState = iota
	formatterStateSubstitution
	formatterStateColor
)

// RepositoryDetails describes the repository a commit is rendered for.
type RepositoryDetails struct {
	Name         string
	LongName     string
	URL          string
	LinkTemplate string
}

// MessageFormatter renders commits through a commit template.
type MessageFormatter struct {
	template string
}

// NewMessageFormatter returns a formatter for template; an empty template selects DefaultCommitTemplate.
func NewMessageFormatter(template string) MessageFormatter {
	if len(template) == 0 {
		template = DefaultCommitTemplate
	}
	return MessageFormatter{template: template}
}

// Template returns the template the formatter renders.
func (formatter MessageFormatter) Template() string {
	return formatter.template
}

// Format renders commit on branch, producing one line per template line.
func (formatter MessageFormatter) Format(repository RepositoryDetails, commit vcs.Commit, branch string) []string {
	if len(branch) == 0 {
		branch = UnknownBranchName
	}

	substitutions := map[rune]string{
		'a': commit.AuthorName,
		'b': branch,
		'c': commit.ShortID(),
		'C': commit.ID,
		'e': commit.AuthorEmail,
		'm': commit.FirstLine(),
		'n': repository.Name,
		'N': repository.LongName,
		'u': repository.URL,
		'l': RenderLink(repository.LinkTemplate, commit),
		'S': spaceCharacterConstant,
		'r': resetControlCodeConstant,
		'!': boldControlCodeConstant,
		'_': underlineControlCodeConstant,
		'%': string(substitutionMarkerConstant),
	}

	templateLines := strings.Split(formatter.template, templateLineSeparatorConstant)
	renderedLines := make([]string, 0, len(templateLines))
	for _, templateLine := range templateLines {
		renderedLines = append(renderedLines, renderLine(templateLine, substitutions))
	}
	return renderedLines
}

// RenderLink expands a link template. Only %c, %C and %% are recognized.
func RenderLink(linkTemplate string, commit vcs.Commit) string {
	if len(linkTemplate) == 0 {
		return ""
	}
	substitutions := map[rune]string{
		'c': commit.ShortID(),
		'C': commit.ID,
		'%': string(substitutionMarkerConstant),
	}
	return renderLine(linkTemplate, substitutions)
}

func renderLine(templateLine string, substitutions map[rune]string) string {
	var output strings.Builder
	var colorCode strings.Builder
	state := formatterStateNormal

	for _, character := range templateLine {
		switch state {
		case formatterStateSubstitution:
			if replacement, known := substitutions[character]; known {
				output.WriteString(replacement)
				state = formatterStateNormal
				continue
			}
			if character == colorOpenMarkerConstant {
				colorCode.Reset()
				state = formatterStateColor
				continue
			}
			output.WriteRune(character)
			state = formatterStateNormal
		case formatterStateColor:
			if character == colorCloseMarkerConstant {
				output.WriteString(colorControlCodeConstant)
				output.WriteString(colorCode.String())
				state = formatterStateNormal
				continue
			}
			colorCode.WriteRune(character)
		default:
			if character == substitutionMarkerConstant {
				state = formatterStateSubstitution
				continue
			}
			output.WriteRune(character)
		}
	}

	return output.String()
}
