package gitrepo_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/temirov/gitnotify/internal/gitrepo"
)

func TestParseRemoteURL(testInstance *testing.T) {
	testCases := []struct {
		name        string
		remote      string
		expected    gitrepo.RemoteURL
		expectError bool
	}{
		{
			name:     "scp_like",
			remote:   "git@github.com:temirov/gitnotify.git",
			expected: gitrepo.RemoteURL{Protocol: gitrepo.RemoteProtocolSSH, Host: "github.com", Owner: "temirov", Repository: "gitnotify"},
		},
		{
			name:     "ssh_scheme",
			remote:   "ssh://git@github.com/temirov/gitnotify.git",
			expected: gitrepo.RemoteURL{Protocol: gitrepo.RemoteProtocolSSH, Host: "github.com", Owner: "temirov", Repository: "gitnotify"},
		},
		{
			name:     "https",
			remote:   "https://github.com/temirov/gitnotify",
			expected: gitrepo.RemoteURL{Protocol: gitrepo.RemoteProtocolHTTPS, Host: "github.com", Owner: "temirov", Repository: "gitnotify"},
		},
		{
			name:     "gitlab_subgroup_uses_last_segments",
			remote:   "https://gitlab.com/group/subgroup/project.git/",
			expected: gitrepo.RemoteURL{Protocol: gitrepo.RemoteProtocolHTTPS, Host: "gitlab.com", Owner: "subgroup", Repository: "project"},
		},
		{
			name:     "git_daemon",
			remote:   "git://git.example.org/tools/widgets.git",
			expected: gitrepo.RemoteURL{Protocol: gitrepo.RemoteProtocolGit, Host: "git.example.org", Owner: "tools", Repository: "widgets"},
		},
		{
			name:     "file",
			remote:   "file:///srv/git/tools/widgets.git",
			expected: gitrepo.RemoteURL{Protocol: gitrepo.RemoteProtocolFile, Owner: "tools", Repository: "widgets"},
		},
		{name: "local_path", remote: "/somewhere/to/nowhere", expectError: true},
		{name: "empty", remote: "  ", expectError: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			parsed, parseError := gitrepo.ParseRemoteURL(testCase.remote)
			if testCase.expectError {
				require.Error(testInstance, parseError)
				return
			}
			require.NoError(testInstance, parseError)
			require.Equal(testInstance, testCase.expected, parsed)
		})
	}
}

func TestDisplayName(testInstance *testing.T) {
	require.Equal(testInstance, "temirov/gitnotify", gitrepo.DisplayName("git@github.com:temirov/gitnotify.git", "gitnotify"))
	require.Equal(testInstance, "fallback", gitrepo.DisplayName("/somewhere/to/nowhere", "fallback"))
}
