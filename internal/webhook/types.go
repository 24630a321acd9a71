// Package webhook receives signed repository events and turns merged pull
// requests and default-branch pushes into queued analysis jobs.
package webhook

// envelope is the part of every event needed to find the owning project.
type envelope struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type user struct {
	Login string `json:"login"`
}

type repository struct {
	FullName      string `json:"full_name"`
	CloneURL      string `json:"clone_url"`
	DefaultBranch string `json:"default_branch"`
}

// PullRequestEvent is the subset of a pull_request delivery we use.
type PullRequestEvent struct {
	Action      string      `json:"action"`
	Number      int         `json:"number"`
	PullRequest pullRequest `json:"pull_request"`
	Repository  repository  `json:"repository"`
}

type pullRequest struct {
	Number         int    `json:"number"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	HTMLURL        string `json:"html_url"`
	Merged         bool   `json:"merged"`
	MergeCommitSHA string `json:"merge_commit_sha"`
	User           user   `json:"user"`
	Base           ref    `json:"base"`
	Head           ref    `json:"head"`
}

type ref struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// merged reports whether the event is the closed+merged transition.
func (e *PullRequestEvent) merged() bool {
	return e.Action == "closed" && e.PullRequest.Merged
}

// PushEvent is the subset of a push delivery we use.
type PushEvent struct {
	Ref        string       `json:"ref"`
	Before     string       `json:"before"`
	After      string       `json:"after"`
	Deleted    bool         `json:"deleted"`
	Commits    []pushCommit `json:"commits"`
	Repository repository   `json:"repository"`
}

type pushCommit struct {
	ID       string `json:"id"`
	Message  string `json:"message"`
	URL      string `json:"url"`
	Distinct *bool  `json:"distinct"`
	Author   struct {
		Name     string `json:"name"`
		Username string `json:"username"`
	} `json:"author"`
}

func (c pushCommit) author() string {
	if c.Author.Username != "" {
		return c.Author.Username
	}
	return c.Author.Name
}
