package repository

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
)

const (
	invalidBranchPatternTemplateConstant = "invalid branch pattern %q: %w"
	unmatchedPatternMessageConstant      = "No branch in repository matches pattern"
	unmatchedPatternsMessageConstant     = "No branch in repository matches any pattern"
	logFieldPatternConstant              = "pattern"
	logFieldPatternsConstant             = "patterns"
)

// ResolveBranches expands whitespace-separated glob patterns against the remote branch names.
// A pattern matching nothing is logged as a warning and an empty overall result as an error;
// neither aborts resolution. The result is sorted and free of duplicates.
func ResolveBranches(patterns string, remoteBranchNames []string, logger *zap.Logger) ([]string, error) {
	logger = resolveLogger(logger)

	matchedBranches := map[string]struct{}{}
	for _, pattern := range strings.Fields(patterns) {
		matcher, compileError := glob.Compile(pattern)
		if compileError != nil {
			return nil, fmt.Errorf(invalidBranchPatternTemplateConstant, pattern, compileError)
		}
		patternMatched := false
		for _, branchName := range remoteBranchNames {
			if matcher.Match(branchName) {
				matchedBranches[branchName] = struct{}{}
				patternMatched = true
			}
		}
		if !patternMatched {
			logger.Warn(unmatchedPatternMessageConstant, zap.String(logFieldPatternConstant, pattern))
		}
	}

	if len(matchedBranches) == 0 {
		logger.Error(unmatchedPatternsMessageConstant, zap.String(logFieldPatternsConstant, patterns))
		return []string{}, nil
	}

	resolvedBranches := make([]string, 0, len(matchedBranches))
	for branchName := range matchedBranches {
		resolvedBranches = append(resolvedBranches, branchName)
	}
	sort.Strings(resolvedBranches)
	return resolvedBranches, nil
}

func resolveLogger(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
