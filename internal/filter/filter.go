// Package filter decides which decoded firehose records are kept.
package filter

import (
	"strings"

	"twimer/internal/models"
)

// Prefixes matched against the start of the tweet text
const (
	RetweetPrefix = "RT @"
	ReplyPrefix   = "@"
)

// Policy controls which kinds of posts are persisted
type Policy struct {
	IncludeRetweets bool
	IncludeReplies  bool
}

// Reason explains a filter verdict. The empty reason means the record is kept.
type Reason string

const (
	ReasonKeep    Reason = ""
	ReasonRetweet Reason = "retweet"
	ReasonReply   Reason = "reply"
)

// Evaluate applies the rules in order and returns the first match.
//
// The reply rule is a prefix heuristic: any text starting with "@" counts as a
// reply, including organic posts that merely open with a mention.
func Evaluate(t models.Tweet, p Policy) Reason {
	if !p.IncludeRetweets && strings.HasPrefix(t.Text, RetweetPrefix) {
		return ReasonRetweet
	}
	if !p.IncludeReplies && strings.HasPrefix(t.Text, ReplyPrefix) {
		return ReasonReply
	}
	return ReasonKeep
}

// ShouldKeep reports whether t passes the policy.
func ShouldKeep(t models.Tweet, p Policy) bool {
	return Evaluate(t, p) == ReasonKeep
}
