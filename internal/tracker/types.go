package tracker

import "encoding/json"

// RawIssue is one issue as returned by the tracker's REST API. Field values
// are kept close to the wire; the extract package owns their interpretation.
type RawIssue struct {
	Key    string `json:"key"`
	Fields Fields `json:"fields"`
}

// User is a tracker account reference.
type User struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}

// Named is any tracker object addressed by name (issue type, resolution).
type Named struct {
	Name string `json:"name"`
}

// Fields holds the standard issue fields plus all custom fields keyed by
// their installation-specific IDs (customfield_NNNNN). Custom values stay as
// raw JSON because their shape varies per field type.
type Fields struct {
	Summary        string   `json:"summary"`
	Description    string   `json:"description"`
	IssueType      Named    `json:"issuetype"`
	Created        string   `json:"created"`
	Updated        string   `json:"updated"`
	ResolutionDate string   `json:"resolutiondate"`
	Assignee       *User    `json:"assignee"`
	Reporter       *User    `json:"reporter"`
	Resolution     *Named   `json:"resolution"`
	Labels         []string `json:"labels"`

	Custom map[string]json.RawMessage `json:"-"`
}

// fieldsAlias avoids recursing into UnmarshalJSON.
type fieldsAlias Fields

// UnmarshalJSON decodes the known fields and collects every custom field
// into the Custom map.
func (f *Fields) UnmarshalJSON(data []byte) error {
	var known fieldsAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	known.Custom = make(map[string]json.RawMessage)
	for key, raw := range all {
		if len(key) > 12 && key[:12] == "customfield_" {
			known.Custom[key] = raw
		}
	}

	*f = Fields(known)
	return nil
}

// RawComment is one issue comment.
type RawComment struct {
	ID      string `json:"id"`
	Author  User   `json:"author"`
	Created string `json:"created"`
	Body    string `json:"body"`
}

// commentPage is the tracker's comment listing envelope.
type commentPage struct {
	Comments []RawComment `json:"comments"`
}

// searchResult is the tracker's search envelope; only keys are requested.
type searchResult struct {
	Issues []struct {
		Key string `json:"key"`
	} `json:"issues"`
	Total int `json:"total"`
}

// myself is the authenticated-user endpoint response.
type myself struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
}
