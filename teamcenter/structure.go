package teamcenter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/santiagomed/plmgen/plm"
)

var errNoParentLine = errors.New("no parent line")

// Open creates a BOM window on the given revision and tracks it for Close.
func (c *Client) Open(ctx context.Context, s *plm.Session, objectUID, revisionUID string, rule plm.RuleParams) (*plm.Window, error) {
	in := createBOMWindowsInput{
		Info: []bomWindowInfo{{
			ClientID: uuid.NewString(),
			Item:     modelObject{UID: objectUID},
			ItemRev:  modelObject{UID: revisionUID},
			RevRuleConfigInfo: revRuleConfigInfo{
				ClientID: uuid.NewString(),
				RevRule:  modelObject{UID: rule.RevisionRule},
				Props:    revRuleProps{UnitNo: rule.UnitNo, Today: rule.Today},
			},
		}},
	}

	var out createBOMWindowsResponse
	if _, err := c.post(ctx, s, bomWindowService, "createBOMWindows", in, &out); err != nil {
		return nil, fmt.Errorf("open window: %w", err)
	}
	if err := out.ServiceData.err(); err != nil {
		return nil, fmt.Errorf("open window: %w", err)
	}
	if len(out.Output) == 0 || out.Output[0].BOMWindow.UID == "" {
		return nil, errors.New("open window: empty response")
	}

	w := &plm.Window{ID: out.Output[0].BOMWindow.UID, RootLineID: out.Output[0].BOMLine.UID}
	c.mu.Lock()
	c.openWindows = append(c.openWindows, w.ID)
	c.mu.Unlock()
	return w, nil
}

// AttachChild adds childRevisionUID beneath parentLineID. An empty parent
// line fails without contacting the server.
func (c *Client) AttachChild(ctx context.Context, s *plm.Session, parentLineID, childRevisionUID string) (string, error) {
	if parentLineID == "" {
		return "", errNoParentLine
	}
	in := addInput{Input: []addLine{{
		ParentLine: modelObject{UID: parentLineID},
		ItemRev:    modelObject{UID: childRevisionUID},
	}}}

	var out addResponse
	if _, err := c.post(ctx, s, bomLineService, "add", in, &out); err != nil {
		return "", fmt.Errorf("add line: %w", err)
	}
	if err := out.ServiceData.err(); err != nil {
		return "", fmt.Errorf("add line: %w", err)
	}
	if len(out.AddedLines) == 0 || out.AddedLines[0].UID == "" {
		return "", errors.New("add line: empty response")
	}
	return out.AddedLines[0].UID, nil
}

// Save persists the window's structure and returns the updated objects.
func (c *Client) Save(ctx context.Context, s *plm.Session, windowID string) ([]string, error) {
	in := bomWindowsInput{BOMWindows: []modelObject{{UID: windowID}}}

	var out serviceData
	if _, err := c.post(ctx, s, bomSaveService, "saveBOMWindows", in, &out); err != nil {
		return nil, fmt.Errorf("save window %s: %w", windowID, err)
	}
	if err := out.err(); err != nil {
		return nil, fmt.Errorf("save window %s: %w", windowID, err)
	}
	return out.Updated, nil
}

// Close releases every tracked window. Windows stay tracked until the
// server has answered the close request, so a failed call is retried by the
// next Close.
func (c *Client) Close(ctx context.Context, s *plm.Session) ([]string, error) {
	c.mu.Lock()
	ids := append([]string(nil), c.openWindows...)
	c.mu.Unlock()

	if len(ids) == 0 {
		return []string{}, nil
	}

	in := bomWindowsInput{}
	for _, id := range ids {
		in.BOMWindows = append(in.BOMWindows, modelObject{UID: id})
	}

	var out serviceData
	if _, err := c.post(ctx, s, bomWindowService, "closeBOMWindows", in, &out); err != nil {
		return nil, fmt.Errorf("close windows: %w", err)
	}
	// The server has seen every id; any it could not close is not ours to retry.
	c.untrack(ids)
	if err := out.err(); err != nil {
		return nil, fmt.Errorf("close windows: %w", err)
	}
	c.logger.Debug(fmt.Sprintf("Closed %d windows", len(ids)))
	return ids, nil
}

func (c *Client) untrack(ids []string) {
	done := make(map[string]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.openWindows[:0]
	for _, id := range c.openWindows {
		if !done[id] {
			kept = append(kept, id)
		}
	}
	c.openWindows = kept
}

// TrackWindows adds windows left open by an earlier process so the next
// Close releases them too.
func (c *Client) TrackWindows(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if id == "" || contains(c.openWindows, id) {
			continue
		}
		c.openWindows = append(c.openWindows, id)
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// OpenWindows returns the windows Close would release.
func (c *Client) OpenWindows() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.openWindows...)
}
