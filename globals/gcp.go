package globals

// Module names
const GCP_PROJECTS_MODULE_NAME string = "projects"
const GCP_NETWORKS_MODULE_NAME string = "networks"
const GCP_FIREWALL_MODULE_NAME string = "firewall"
const GCP_ADDRESSES_MODULE_NAME string = "addresses"
const GCP_LOADBALANCER_MODULE_NAME string = "loadbalancers"
const GCP_INSTANCES_MODULE_NAME string = "instances"
const GCP_GKE_MODULE_NAME string = "gke"
const GCP_BUCKETS_MODULE_NAME string = "buckets"
const GCP_SCANNER_MODULE_NAME string = "scanner"
const GCP_CIDR_MODULE_NAME string = "cidr"
const GCP_SECURITY_MODULE_NAME string = "security"
const GCP_STORE_MODULE_NAME string = "store"
const GCP_CREDS_MODULE_NAME string = "credentials"
const GCP_API_MODULE_NAME string = "api"

// API service names, used for error classification
const COMPUTE_API = "compute.googleapis.com"
const RESOURCE_MANAGER_API = "cloudresourcemanager.googleapis.com"
const CONTAINER_API = "container.googleapis.com"
const STORAGE_API = "storage.googleapis.com"

// Verbosity levels
var GCP_VERBOSITY int = 0

const GCP_VERBOSE_ERRORS = 9

// Default worker pool sizes. The outer pool bounds concurrent project
// scans, the inner pool bounds resource-kind scans within one project,
// and the cluster pool bounds workload introspection connections.
const DEFAULT_PROJECT_WORKERS = 20
const DEFAULT_RESOURCE_WORKERS = 10
const DEFAULT_CLUSTER_WORKERS = 5
