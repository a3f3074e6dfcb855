package extract

import "regexp"

// Version is the extraction version tag stamped on every normalized ticket.
const Version = "1.1"

// FieldMap maps logical field names to the tracker's installation-specific
// custom field IDs. The normalizer never hard-codes field IDs.
type FieldMap map[string]string

// Logical custom-field names.
const (
	FieldStartDateTime         = "startDateTime"
	FieldEndDateTime           = "endDateTime"
	FieldTechEscalation        = "techEscalation"
	FieldPermittedUsers        = "permittedUsers"
	FieldResponsibleEntity     = "responsibleEntity"
	FieldCause                 = "cause"
	FieldEffect                = "effect"
	FieldCustomerImpact        = "customerImpact"
	FieldChangeCategory        = "changeCategory"
	FieldEnvironments          = "environments"
	FieldAffectedBusinessUnits = "affectedBusinessUnits"
	FieldCausingBusinessUnits  = "causingBusinessUnits"
	FieldChangeOwner           = "changeOwner"
	FieldIncidentOwner         = "incidentOwner"
)

// DefaultFieldMap returns the field IDs of the reference installation.
func DefaultFieldMap() FieldMap {
	return FieldMap{
		FieldStartDateTime:         "customfield_10303",
		FieldEndDateTime:           "customfield_10304",
		FieldTechEscalation:        "customfield_12913",
		FieldPermittedUsers:        "customfield_10800",
		FieldResponsibleEntity:     "customfield_15000",
		FieldCause:                 "customfield_12915",
		FieldEffect:                "customfield_12918",
		FieldCustomerImpact:        "customfield_12919",
		FieldChangeCategory:        "customfield_12990",
		FieldEnvironments:          "customfield_13028",
		FieldAffectedBusinessUnits: "customfield_12921",
		FieldCausingBusinessUnits:  "customfield_12922",
		FieldChangeOwner:           "customfield_12984",
		FieldIncidentOwner:         "customfield_12909",
	}
}

// Rules is the static matching configuration of the normalizer: host
// patterns, false-positive filters, the technology vocabulary, service tag
// filters and business-unit parsing rules. It is data loaded at startup so
// the matcher stays a table-driven function.
type Rules struct {
	HostPatterns       []*regexp.Regexp
	HostBlacklist      map[string]struct{}
	TechnologyPatterns []*regexp.Regexp
	TechnologyTags     []string
	IgnoreTags         map[string]struct{}
	BrandPrefixes      []brandPrefix
	GenericSuffix      []string
}

// brandPrefix strips a brand qualifier from a business-unit label. When
// acronym is true, the parenthesized acronym group is the service name.
type brandPrefix struct {
	pattern *regexp.Regexp
	acronym bool
}

var technologyVocabulary = []string{
	// Search/logs
	"opensearch", "kibana", "elasticsearch", "logstash", "fluentd",
	// Web servers
	"apache", "nginx", "php", "python", "java", "nodejs", "tomcat", "jboss", "wildfly",
	// Databases
	"mysql", "postgresql", "mariadb", "mongodb", "redis", "cassandra", "ceph",
	// Containers/orchestration
	"docker", "kubernetes", "k8s", "proxmox", "vmware", "vcenter", "esxi", "openstack",
	// CI/CD
	"jenkins", "ansible", "terraform", "gitlab", "github", "bitbucket", "git", "rundeck", "salt",
	// Security/CDN
	"imperva", "cloudflare", "akamai", "waf",
	// Messaging
	"kafka", "rabbitmq", "activemq",
	// Monitoring
	"grafana", "prometheus", "zabbix", "nagios", "datadog",
	// Load balancing/proxy
	"haproxy", "keepalived", "lvs", "varnish",
	// Cache
	"memcached",
	// Cloud providers
	"aws", "azure", "gcp",
	// Storage
	"s3", "cloudian", "hyperstore", "netbackup", "nfs",
	// Mail
	"dovecot", "postfix", "roundcube", "exim",
	// Virtualization
	"qemu", "kvm", "libvirt", "hyper-v", "virtuozzo",
	// OS/distros
	"debian", "ubuntu", "centos", "rhel",
	// Brand-specific products
	"waas", "dcd", "clipp", "ngcs", "dave",
	// Identity/auth
	"keycloak", "iam", "oauth", "ldap", "saml", "openid",
}

var hostBlacklist = []string{
	"https", "http", "image", "browse", "version", "update", "release",
	"node12", "node10", "node11", "node-33", "node-91", "node-601", "node-604", "node-901",
	"utf8", "utf16", "iso8859", "win1252",
	"amd64", "x86", "arm64",
	"eu-south-2", "eu-central-1", "eu-central-2", "us-east-1", "us-west-2",
	"region", "regions",
	"image-2025", "image-2024", "image-2023", "screenshot-1", "screenshot-2",
}

// Tags that are environment/severity/workflow labels, never services.
var ignoreTags = []string{
	"ai", "dev", "smb", "urgent", "qa", "prod", "pre", "test",
	"wip", "todo", "done", "blocked", "review",
	"minor", "major", "critical", "blocker",
	"bug", "feature", "task", "story", "epic",
}

var genericSuffixes = []string{
	"business support systems", "customer interaction systems",
	"employee support systems", "operations support systems",
	"product service systems", "external supplier systems",
	"outsourced service systems", "corporate management systems",
	"-bss", "-cis", "-ess", "-oss", "-pss", "-extss", "-outss", "-cms",
}

// DefaultRules returns the static extraction rule set.
func DefaultRules() *Rules {
	r := &Rules{
		HostPatterns: []*regexp.Regexp{
			// IONOS storage nodes: s3-node-901, s3-node-91-16
			regexp.MustCompile(`\bs3-node-\d+(?:-\d+)?\b`),
			// Prefix-number: auth-out-01, accsh-j01, bex-aprtl01
			regexp.MustCompile(`\b[a-z]{2,10}-[a-z]*-?\d{1,3}\b`),
			// Classic: llim908, srv001, bay03
			regexp.MustCompile(`\b[a-z]{2,6}\d{2,4}\b`),
			// Long prefix-number: awsme-2385, towan-123
			regexp.MustCompile(`\b[a-z]{3,8}-\d{3,5}\b`),
			// Long run: accshappdyconsolentoolbapproda01
			regexp.MustCompile(`\b[a-z]{6,30}[a-z]\d{2}\b`),
		},
		HostBlacklist:  make(map[string]struct{}, len(hostBlacklist)),
		TechnologyTags: technologyVocabulary,
		IgnoreTags:     make(map[string]struct{}, len(ignoreTags)),
		GenericSuffix:  genericSuffixes,
	}

	for _, h := range hostBlacklist {
		r.HostBlacklist[h] = struct{}{}
	}
	for _, t := range ignoreTags {
		r.IgnoreTags[t] = struct{}{}
	}
	for _, tech := range technologyVocabulary {
		r.TechnologyPatterns = append(r.TechnologyPatterns, regexp.MustCompile(`\b`+regexp.QuoteMeta(tech)+`\b`))
	}

	// Brand prefixes, ordered by specificity. Applied to the lower-cased
	// business unit label.
	for _, p := range []string{
		`^ar_(.+)$`, `^fh_(.+)$`,
		`^ic-(.+)$`, `^ionos-(.+)$`, `^strato-(.+)$`, `^home\.pl-(.+)$`,
		`^cronon[- ](.+)$`, `^fasthosts[- ](.+)$`, `^world4you[- ](.+)$`,
		`^internetx[- ](.+)$`, `^we22[- ](.+)$`, `^udag[- ](.+)$`,
	} {
		r.BrandPrefixes = append(r.BrandPrefixes, brandPrefix{pattern: regexp.MustCompile(p)})
	}
	// Name (ACR) -> acr
	r.BrandPrefixes = append(r.BrandPrefixes, brandPrefix{
		pattern: regexp.MustCompile(`^(.+?)\s*\(([a-z]{2,10}(?:-[a-z]{2,10})?)\)$`),
		acronym: true,
	})

	return r
}

// False-positive filters for host candidates.
var (
	uuidFragmentPattern = regexp.MustCompile(`^[a-f0-9]{4,8}$`)
	hexHashPattern      = regexp.MustCompile(`^[a-f0-9]{32,}$`)
	versionPattern      = regexp.MustCompile(`^v?\d+(\.\d+)*$`)
	bareNodePattern     = regexp.MustCompile(`^node-\d+$`)
	cloudRegionPattern  = regexp.MustCompile(`^(eu|us|ap|sa|af|me)-(north|south|east|west|central)-\d+$`)
	ticketKeyPattern    = regexp.MustCompile(`^[a-z]{2,6}-\d{1,5}$`)
	imageAttachPattern  = regexp.MustCompile(`^(image|screenshot|img|pic|photo)-`)
)

// Comment and description structure.
var (
	intervalPattern = regexp.MustCompile(`\[(\d{2}/\d{2}/\d{4})\s+(\d{2}:\d{2}),\s*(?:(\d{2}/\d{2}/\d{4})\s+)?(\d{2}:\d{2})\]`)
	timelinePattern = regexp.MustCompile(`(?m)^(\d{8})\s+(\d{2}:\d{2})\s*-\s*(\w+):\s*(.+)$`)
	bracketTag      = regexp.MustCompile(`\[([^\]]+)\]`)
	dateTagPattern  = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}`)
)
