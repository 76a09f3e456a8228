package audit

import "github.com/gitgovernance/core/internal/gitexec"

// GitChangedFileLister adapts gitexec.Git to ChangedFileLister.
type GitChangedFileLister struct {
	Git *gitexec.Git
}

func (l *GitChangedFileLister) ChangedFiles(since string) ([]string, error) {
	return l.Git.ChangedFiles(since)
}
