package notify

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/temirov/gitnotify/internal/format"
	"github.com/temirov/gitnotify/internal/repository"
	"github.com/temirov/gitnotify/internal/vcs"
)

const (
	defaultMaxCommitsAtOnceConstant = 5
	truncationSummaryTemplate       = "Showing latest %d of %d commits to %s..."
	groupHeaderTemplate             = "%s pushed %d commit(s) to %s at %s"
	snarfHeaderTemplate             = "Talking about %s?"
)

// Kind selects how a batch of commits is presented.
type Kind int

// Supported presentation kinds.
const (
	// KindCommits announces newly detected commits.
	KindCommits Kind = iota
	// KindLog answers an explicit log request; group headers are never shown.
	KindLog
	// KindSnarf answers a commit identifier mentioned in conversation.
	KindSnarf
)

var hexadecimalWordPattern = regexp.MustCompile(`\b[0-9a-f]+\b`)

// ExtractCommitIdentifier returns the first token of text that looks like a commit identifier.
func ExtractCommitIdentifier(text string) (string, bool) {
	for _, candidate := range hexadecimalWordPattern.FindAllString(text, -1) {
		if vcs.ValidateCommitIdentifier(candidate) == nil {
			return candidate, true
		}
	}
	return "", false
}

// Renderer renders batches of commits into lines.
type Renderer struct {
	maxCommitsAtOnce int
}

// NewRenderer constructs a renderer that shows at most maxCommitsAtOnce commits per batch.
// Non-positive values select the default of five.
func NewRenderer(maxCommitsAtOnce int) Renderer {
	if maxCommitsAtOnce <= 0 {
		maxCommitsAtOnce = defaultMaxCommitsAtOnceConstant
	}
	return Renderer{maxCommitsAtOnce: maxCommitsAtOnce}
}

// MaxCommitsAtOnce reports the batch cap.
func (renderer Renderer) MaxCommitsAtOnce() int {
	return renderer.maxCommitsAtOnce
}

// RenderCommits renders new commits keyed by branch.
//
// Commits of all branches are ordered by timestamp and only the newest
// MaxCommitsAtOnce survive, announced by a summary line when some were cut.
// Survivors are then listed per branch in name order and per author in order
// of first appearance, each group preceded by a header when the repository
// enables group headers and kind is not KindLog.
func (renderer Renderer) RenderCommits(watched *repository.Repository, commitsByBranch map[string][]vcs.Commit, kind Kind) []string {
	branches := make([]string, 0, len(commitsByBranch))
	for branch := range commitsByBranch {
		branches = append(branches, branch)
	}
	sort.Strings(branches)

	allCommits := []vcs.Commit{}
	for _, branch := range branches {
		allCommits = append(allCommits, commitsByBranch[branch]...)
	}
	if len(allCommits) == 0 {
		return nil
	}
	sortByTimestamp(allCommits)

	lines := []string{}
	survivors := map[string]struct{}{}
	if len(allCommits) > renderer.maxCommitsAtOnce {
		lines = append(lines, fmt.Sprintf(truncationSummaryTemplate, renderer.maxCommitsAtOnce, len(allCommits), watched.Details().LongName))
		allCommits = allCommits[len(allCommits)-renderer.maxCommitsAtOnce:]
	}
	for _, commit := range allCommits {
		survivors[commit.ID] = struct{}{}
	}

	useGroupHeader := watched.Options().GroupHeader && kind != KindLog
	for _, branch := range branches {
		branchCommits := append([]vcs.Commit{}, commitsByBranch[branch]...)
		sortByTimestamp(branchCommits)
		for _, group := range groupByAuthor(branchCommits, survivors) {
			if useGroupHeader {
				lines = append(lines, fmt.Sprintf(groupHeaderTemplate, group.author, len(group.commits), branch, watched.Name()))
			}
			for _, commit := range group.commits {
				lines = append(lines, watched.Formatter().Format(watched.Details(), commit, branch)...)
			}
		}
	}
	return lines
}

// RenderSnarf renders a commit mentioned in conversation. The branch is unknown.
func (renderer Renderer) RenderSnarf(watched *repository.Repository, commit vcs.Commit) []string {
	lines := []string{fmt.Sprintf(snarfHeaderTemplate, commit.ShortID())}
	return append(lines, watched.Formatter().Format(watched.Details(), commit, format.UnknownBranchName)...)
}

type authorGroup struct {
	author  string
	commits []vcs.Commit
}

func groupByAuthor(commits []vcs.Commit, survivors map[string]struct{}) []authorGroup {
	groups := []authorGroup{}
	groupIndexByAuthor := map[string]int{}
	for _, commit := range commits {
		if _, survived := survivors[commit.ID]; !survived {
			continue
		}
		index, exists := groupIndexByAuthor[commit.AuthorName]
		if !exists {
			index = len(groups)
			groupIndexByAuthor[commit.AuthorName] = index
			groups = append(groups, authorGroup{author: commit.AuthorName})
		}
		groups[index].commits = append(groups[index].commits, commit)
	}
	return groups
}

func sortByTimestamp(commits []vcs.Commit) {
	sort.SliceStable(commits, func(first int, second int) bool {
		return commits[first].Timestamp.Before(commits[second].Timestamp)
	})
}
