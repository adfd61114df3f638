package tenants

const (
	// ClusterHeader carries the resolved cluster slug to the upstream API.
	ClusterHeader = "X-Cluster-Slug"
	// ClusterQueryParam carries the cluster slug in the upstream query string.
	ClusterQueryParam = "cluster_slug"
)
