package vcs

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	shortCommitIdentifierLengthConstant     = 7
	minimumCommitIdentifierLengthConstant   = 6
	maximumCommitIdentifierLengthConstant   = 40
	messageLineSeparatorConstant            = "\n"
	commitNotFoundMessageConstant           = "commit not found"
	invalidCommitIdentifierTemplateConstant = "invalid commit identifier %q: expected %d to %d lowercase hexadecimal characters"
)

var commitIdentifierPattern = regexp.MustCompile(fmt.Sprintf(`^[0-9a-f]{%d,%d}$`, minimumCommitIdentifierLengthConstant, maximumCommitIdentifierLengthConstant))

// ErrCommitNotFound indicates that an identifier does not name a commit in the repository.
var ErrCommitNotFound = errors.New(commitNotFoundMessageConstant)

// Commit is an immutable view of a single commit.
type Commit struct {
	ID          string
	AuthorName  string
	AuthorEmail string
	Message     string
	Timestamp   time.Time
}

// ShortID returns the seven character abbreviation of the identifier.
func (commit Commit) ShortID() string {
	if len(commit.ID) <= shortCommitIdentifierLengthConstant {
		return commit.ID
	}
	return commit.ID[:shortCommitIdentifierLengthConstant]
}

// FirstLine returns the summary line of the commit message.
func (commit Commit) FirstLine() string {
	firstLine, _, _ := strings.Cut(strings.TrimLeft(commit.Message, messageLineSeparatorConstant), messageLineSeparatorConstant)
	return strings.TrimRight(firstLine, "\r")
}

// IsZero reports whether the commit carries no identifier.
func (commit Commit) IsZero() bool {
	return len(commit.ID) == 0
}

// ValidateCommitIdentifier checks that identifier is a full or abbreviated hexadecimal object name.
func ValidateCommitIdentifier(identifier string) error {
	if !commitIdentifierPattern.MatchString(identifier) {
		return fmt.Errorf(invalidCommitIdentifierTemplateConstant, identifier, minimumCommitIdentifierLengthConstant, maximumCommitIdentifierLengthConstant)
	}
	return nil
}
