package merger

import "fmt"

// StaticSource derives project metadata for one connection from fixed
// hostname and default-branch settings. Canonical names are
// "<hostname>/<project>".
type StaticSource struct {
	Connection    string
	Hostname      string
	DefaultBranch string
}

var _ Source = StaticSource{}

func (s StaticSource) GetProject(name string) (Project, error) {
	if name == "" {
		return Project{}, fmt.Errorf("project name is empty")
	}
	branch := s.DefaultBranch
	if branch == "" {
		branch = "master"
	}
	return Project{
		Name:              name,
		ConnectionName:    s.Connection,
		CanonicalName:     s.Hostname + "/" + name,
		CanonicalHostname: s.Hostname,
		DefaultBranch:     branch,
	}, nil
}

// StaticSources is a Sources registry backed by a fixed connection map.
type StaticSources map[string]StaticSource

var _ Sources = StaticSources{}

func (s StaticSources) GetSource(connection string) (Source, error) {
	src, ok := s[connection]
	if !ok {
		return nil, fmt.Errorf("unknown connection %q", connection)
	}
	return src, nil
}
