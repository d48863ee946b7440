package engine

import (
	"log"
	"sort"
	"time"

	"solvault/internal/store/local"
)

// ListEntry is one row of the local inventory: a tag pointing at an id, or an
// untagged id with Tag empty.
type ListEntry struct {
	Project      string
	Tag          string
	ID           string
	LastModified time.Time
}

// ListPulledArtifacts enumerates the local store only: one row per tag, plus
// one row per id that no tag in the same project currently points to.
func ListPulledArtifacts(localStore *local.Store, opts Options) ([]ListEntry, error) {
	projects, err := localStore.ListProjects()
	if err != nil {
		return nil, internal(err, "listing local projects")
	}

	var rows []ListEntry
	for _, project := range projects {
		tags, err := localStore.ListTags(project)
		if err != nil {
			return nil, internal(err, "listing tags for project %s", project)
		}
		tagged := map[string]struct{}{}
		for _, tag := range tags {
			a, err := localStore.RetrieveArtifactByTag(project, tag.Name)
			if err != nil {
				if opts.Debug {
					log.Printf("list: tag %s/%s is unreadable: %v", project, tag.Name, err)
				}
				return nil, internal(err, "reading tag %s in project %s", tag.Name, project)
			}
			tagged[a.ID] = struct{}{}
			rows = append(rows, ListEntry{
				Project:      project,
				Tag:          tag.Name,
				ID:           a.ID,
				LastModified: tag.LastModified,
			})
		}

		ids, err := localStore.ListIDs(project)
		if err != nil {
			return nil, internal(err, "listing ids for project %s", project)
		}
		for _, id := range ids {
			if _, ok := tagged[id.Name]; ok {
				continue
			}
			rows = append(rows, ListEntry{
				Project:      project,
				ID:           id.Name,
				LastModified: id.LastModified,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Project != rows[j].Project {
			return rows[i].Project < rows[j].Project
		}
		if rows[i].Tag != rows[j].Tag {
			return rows[i].Tag < rows[j].Tag
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}
