package graph

import (
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/rohankatakam/repograph/internal/models"
)

// FilePlan is everything one parsed file contributes to the graph, in write order
type FilePlan struct {
	Directories []models.CodeEntity // root first
	File        models.CodeEntity
	Entities    []models.CodeEntity // declarations, flattened, parents before children
	Links       []models.LinkEntity // directory HAS edges first
	Keep        KeepSet
}

// DirectoryChain returns dir and all of its ancestors, root (".") first
func DirectoryChain(dir string) []string {
	dir = path.Clean(dir)
	if dir == "." || dir == "/" || dir == "" {
		return []string{"."}
	}
	parts := strings.Split(dir, "/")
	chain := make([]string, 0, len(parts)+1)
	chain = append(chain, ".")
	for i := range parts {
		chain = append(chain, strings.Join(parts[:i+1], "/"))
	}
	return chain
}

// DirectoryEntity builds the entity of a repository-relative directory
func DirectoryEntity(dir string) models.CodeEntity {
	return models.CodeEntity{
		ID:   models.DirectoryID(dir),
		Path: dir,
		Kind: models.KindDirectory,
		Properties: map[string]string{
			models.PropName: path.Base(dir),
		},
	}
}

// PlanDirectories returns the entities and HAS links of a directory chain
func PlanDirectories(dir string) ([]models.CodeEntity, []models.LinkEntity) {
	chain := DirectoryChain(dir)
	entities := make([]models.CodeEntity, 0, len(chain))
	var links []models.LinkEntity
	for i, d := range chain {
		entities = append(entities, DirectoryEntity(d))
		if i > 0 {
			links = append(links, models.LinkEntity{
				FromID: models.DirectoryID(chain[i-1]),
				ToID:   models.DirectoryID(d),
				Kind:   models.LinkHas,
			})
		}
	}
	return entities, links
}

// FileEntity builds the File entity of a parsed file. Import targets resolved
// inside the repository become IMPORTS edges; the rest are recorded in
// external_imports.
func FileEntity(fs *models.FileStructure) models.CodeEntity {
	props := map[string]string{
		models.PropName:      path.Base(fs.FilePath),
		models.PropExtension: path.Ext(fs.FilePath),
		models.PropLanguage:  fs.Language,
		models.PropHash:      fs.FileHash,
		models.PropLineCount: strconv.Itoa(fs.LineCount),
	}

	var external []string
	for _, item := range fs.Items {
		if item.Kind == models.KindImport && item.Properties[models.PropTarget] == "" {
			external = append(external, item.Properties[models.PropSource])
		}
	}
	sort.Strings(external)
	props[models.PropExternalImports] = strings.Join(external, ",")

	endLine := fs.LineCount
	startLine := 0
	if endLine > 0 {
		startLine = 1
	}
	return models.CodeEntity{
		ID:         models.FileID(fs.FilePath),
		Path:       fs.FilePath,
		Kind:       models.KindFile,
		StartLine:  startLine,
		EndLine:    endLine,
		Properties: props,
	}
}

// PlanFileStructure expands a parsed file into the entities and links the
// synchronizer writes
func PlanFileStructure(fs *models.FileStructure) FilePlan {
	fileID := models.FileID(fs.FilePath)
	dirs, dirLinks := PlanDirectories(models.ParentDir(fs.FilePath))

	plan := FilePlan{
		Directories: dirs,
		File:        FileEntity(fs),
		Links:       dirLinks,
	}
	plan.Links = append(plan.Links, models.LinkEntity{
		FromID: dirs[len(dirs)-1].ID,
		ToID:   fileID,
		Kind:   models.LinkHas,
	})

	targets := map[string]bool{}
	for _, item := range fs.Items {
		if item.Kind == models.KindImport {
			if target := item.Properties[models.PropTarget]; target != "" && target != fs.FilePath {
				targets[target] = true
			}
			continue
		}
		plan.addDeclaration(fileID, item)
	}

	for target := range targets {
		plan.Keep.ImportTargets = append(plan.Keep.ImportTargets, target)
	}
	sort.Strings(plan.Keep.ImportTargets)
	for _, target := range plan.Keep.ImportTargets {
		plan.Links = append(plan.Links, models.LinkEntity{
			FromID: fileID,
			ToID:   models.FileID(target),
			Kind:   models.LinkImport,
		})
	}
	return plan
}

// addDeclaration records a declaration and its nested children. Only
// top-level declarations are linked from the file.
func (p *FilePlan) addDeclaration(fileID string, item models.CodeEntity) {
	p.appendDeclaration(item)
	p.Links = append(p.Links, models.LinkEntity{FromID: fileID, ToID: item.ID, Kind: models.LinkHas})
	if item.Properties[models.PropExported] == "true" {
		p.Links = append(p.Links, models.LinkEntity{FromID: fileID, ToID: item.ID, Kind: models.LinkUses})
		p.Keep.Uses = append(p.Keep.Uses, item.ID)
	}
	p.addChildren(item)
}

func (p *FilePlan) addChildren(parent models.CodeEntity) {
	for _, child := range parent.Children {
		p.appendDeclaration(child)
		p.Links = append(p.Links, models.LinkEntity{FromID: parent.ID, ToID: child.ID, Kind: models.LinkHas})
		p.addChildren(child)
	}
}

func (p *FilePlan) appendDeclaration(e models.CodeEntity) {
	e.Children = nil
	p.Entities = append(p.Entities, e)
	p.Keep.Declarations = append(p.Keep.Declarations, e.ID)
}

// toGraphNode converts an entity into node properties. Line numbers are
// stored as integers; "true"/"false" flags as booleans.
func toGraphNode(e models.CodeEntity) GraphNode {
	props := make(map[string]any, len(e.Properties)+5)
	for k, v := range e.Properties {
		switch k {
		case models.PropExported:
			props[k] = v == "true"
		case models.PropLineCount:
			n, err := strconv.Atoi(v)
			if err != nil {
				props[k] = v
				continue
			}
			props[k] = n
		default:
			props[k] = v
		}
	}
	props["id"] = e.ID
	if e.Path != "" {
		props["path"] = e.Path
	}
	if e.StartLine > 0 {
		props["start_line"] = e.StartLine
		props["end_line"] = e.EndLine
	}
	if e.Kind == models.KindProject {
		props[models.PropName] = e.Name()
		delete(props, "path")
	}
	return GraphNode{Label: string(e.Kind), ID: e.ID, Properties: props}
}

func toGraphEdge(l models.LinkEntity) GraphEdge {
	return GraphEdge{Label: l.Kind.RelType(), From: l.FromID, To: l.ToID}
}
