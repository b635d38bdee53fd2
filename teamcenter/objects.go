package teamcenter

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/santiagomed/plmgen/plm"
)

// CreateContainer creates a folder under req.Parent.
func (c *Client) CreateContainer(ctx context.Context, s *plm.Session, req plm.ContainerRequest) (*plm.Container, error) {
	in := createFoldersInput{
		Folders: []folderInfo{{
			ClientID: uuid.NewString(),
			Name:     req.Name,
			Desc:     req.Description,
		}},
		Container:    toModelObject(req.Parent),
		RelationType: relationContents,
	}

	var out createFoldersResponse
	if _, err := c.post(ctx, s, dataManagementService, "createFolders", in, &out); err != nil {
		return nil, fmt.Errorf("create folder %q: %w", req.Name, err)
	}
	if err := out.ServiceData.err(); err != nil {
		return nil, fmt.Errorf("create folder %q: %w", req.Name, err)
	}
	if len(out.Output) == 0 || out.Output[0].Folder.UID == "" {
		return nil, fmt.Errorf("create folder %q: empty response", req.Name)
	}

	f := out.Output[0].Folder
	c.logger.WithField("uid", f.UID).Info(fmt.Sprintf("Created folder %s", req.Name))
	return &plm.Container{UID: f.UID, ClassName: f.ClassName, ObjectType: f.Type}, nil
}

// CreateItem creates an item and its initial revision inside container.
func (c *Client) CreateItem(ctx context.Context, s *plm.Session, container *plm.Container, spec plm.ItemSpec) (*plm.CreatedObject, error) {
	if container == nil {
		return nil, errors.New("no container")
	}
	in := createItemsInput{
		Properties: []itemProperties{{
			ClientID:    uuid.NewString(),
			Name:        spec.Name,
			Type:        spec.ObjectType,
			Description: spec.Description,
		}},
		Container:    toModelObject(*container),
		RelationType: relationContents,
	}

	var out createItemsResponse
	if _, err := c.post(ctx, s, dataManagementService, "createItems", in, &out); err != nil {
		return nil, fmt.Errorf("create item %q: %w", spec.Name, err)
	}
	if err := out.ServiceData.err(); err != nil {
		return nil, fmt.Errorf("create item %q: %w", spec.Name, err)
	}
	if len(out.Output) == 0 || out.Output[0].Item == nil || out.Output[0].ItemRev == nil ||
		out.Output[0].Item.UID == "" || out.Output[0].ItemRev.UID == "" {
		return nil, fmt.Errorf("create item %q: incomplete response", spec.Name)
	}

	return &plm.CreatedObject{
		ObjectUID:   out.Output[0].Item.UID,
		RevisionUID: out.Output[0].ItemRev.UID,
	}, nil
}

func toModelObject(c plm.Container) modelObject {
	return modelObject{UID: c.UID, ClassName: c.ClassName, Type: c.ObjectType}
}
