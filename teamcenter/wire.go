package teamcenter

import (
	"fmt"
	"strings"
)

const (
	sessionService        = "Core-2011-06-Session"
	dataManagementService = "Core-2006-03-DataManagement"
	bomWindowService      = "Cad-2007-01-StructureManagement"
	bomSaveService        = "Cad-2008-06-StructureManagement"
	bomLineService        = "Bom-2008-06-StructureManagement"

	relationContents = "contents"
)

// envelope is the request wrapper every JSON REST service expects.
type envelope struct {
	Header requestHeader `json:"header"`
	Body   interface{}   `json:"body"`
}

type requestHeader struct {
	State  map[string]interface{} `json:"state"`
	Policy map[string]interface{} `json:"policy"`
}

func newEnvelope(body interface{}) envelope {
	return envelope{
		Header: requestHeader{
			State:  map[string]interface{}{},
			Policy: map[string]interface{}{},
		},
		Body: body,
	}
}

type modelObject struct {
	UID       string `json:"uid"`
	ClassName string `json:"className,omitempty"`
	Type      string `json:"type,omitempty"`
}

type loginInput struct {
	Credentials credentials `json:"credentials"`
}

type credentials struct {
	User        string `json:"user"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	Descrimator string `json:"descrimator"`
	Locale      string `json:"locale"`
	Group       string `json:"group"`
}

type createFoldersInput struct {
	Folders      []folderInfo `json:"folders"`
	Container    modelObject  `json:"container"`
	RelationType string       `json:"relationType"`
}

type folderInfo struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
	Desc     string `json:"desc"`
}

type createFoldersResponse struct {
	Output []struct {
		ClientID string      `json:"clientId"`
		Folder   modelObject `json:"folder"`
	} `json:"output"`
	ServiceData serviceData `json:"ServiceData"`
}

type createItemsInput struct {
	Properties   []itemProperties `json:"properties"`
	Container    modelObject      `json:"container"`
	RelationType string           `json:"relationType"`
}

type itemProperties struct {
	ClientID    string `json:"clientId"`
	ItemID      string `json:"itemId"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	RevID       string `json:"revId"`
	Description string `json:"description"`
}

type createItemsResponse struct {
	Output []struct {
		ClientID string       `json:"clientId"`
		Item     *modelObject `json:"item"`
		ItemRev  *modelObject `json:"itemRev"`
	} `json:"output"`
	ServiceData serviceData `json:"ServiceData"`
}

type createBOMWindowsInput struct {
	Info []bomWindowInfo `json:"info"`
}

type bomWindowInfo struct {
	ClientID          string            `json:"clientId"`
	Item              modelObject       `json:"item"`
	ItemRev           modelObject       `json:"itemRev"`
	RevRuleConfigInfo revRuleConfigInfo `json:"revRuleConfigInfo"`
}

type revRuleConfigInfo struct {
	ClientID string       `json:"clientId"`
	RevRule  modelObject  `json:"revRule"`
	Props    revRuleProps `json:"props"`
}

type revRuleProps struct {
	UnitNo int  `json:"unitNo"`
	Today  bool `json:"today"`
}

type createBOMWindowsResponse struct {
	Output []struct {
		ClientID  string      `json:"clientId"`
		BOMWindow modelObject `json:"bomWindow"`
		BOMLine   modelObject `json:"bomLine"`
	} `json:"output"`
	ServiceData serviceData `json:"ServiceData"`
}

type addInput struct {
	Input []addLine `json:"input"`
}

type addLine struct {
	ParentLine modelObject `json:"parentLine"`
	ItemRev    modelObject `json:"itemRev"`
	Flags      int         `json:"flags"`
}

type addResponse struct {
	AddedLines  []modelObject `json:"addedLines"`
	ServiceData serviceData   `json:"ServiceData"`
}

type bomWindowsInput struct {
	BOMWindows []modelObject `json:"bomWindows"`
}

// serviceData is returned alongside (or as) every response.
type serviceData struct {
	Updated       []string       `json:"updated"`
	Deleted       []string       `json:"deleted"`
	PartialErrors []partialError `json:"partialErrors"`
}

type partialError struct {
	ClientID    string `json:"clientId"`
	ErrorValues []struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
		Level   int    `json:"level"`
	} `json:"errorValues"`
}

// PartialError carries the messages of a response that reported errors
// with a success status.
type PartialError struct {
	Messages []string
}

func (e *PartialError) Error() string {
	return "service reported errors: " + strings.Join(e.Messages, "; ")
}

func (sd serviceData) err() error {
	if len(sd.PartialErrors) == 0 {
		return nil
	}
	pe := &PartialError{}
	for _, p := range sd.PartialErrors {
		for _, v := range p.ErrorValues {
			pe.Messages = append(pe.Messages, fmt.Sprintf("%d: %s", v.Code, v.Message))
		}
	}
	if len(pe.Messages) == 0 {
		pe.Messages = append(pe.Messages, "unknown error")
	}
	return pe
}

// exceptionProbe detects a service exception returned with a 2xx status.
type exceptionProbe struct {
	QName   string `json:".QName"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
