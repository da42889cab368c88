// Package api exposes the scanner, snapshot store and planning
// queries over HTTP.
package api

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/sz9751210/gcp-network-tool/gcp/cidr"
	"github.com/sz9751210/gcp-network-tool/gcp/models"
	"github.com/sz9751210/gcp-network-tool/gcp/scanner"
	"github.com/sz9751210/gcp-network-tool/gcp/security"
	"github.com/sz9751210/gcp-network-tool/globals"
	"github.com/sz9751210/gcp-network-tool/internal"
	"github.com/sz9751210/gcp-network-tool/internal/creds"
	"github.com/sz9751210/gcp-network-tool/internal/store"
)

// scanRunner is what the server needs from the aggregator.
type scanRunner interface {
	RunScanAs(ctx context.Context, scanID, sourceType, sourceID string, opts scanner.ScanOptions) (models.Topology, error)
}

// Server wires the HTTP routes onto the store, credential manager and
// scan runner.
type Server struct {
	app    *fiber.App
	store  *store.SnapshotStore
	creds  *creds.Manager
	runner scanRunner
	logger internal.Logger
}

// NewServer builds the route table. runner may be nil for read-only
// deployments; scan submission then returns 503.
func NewServer(snapshots *store.SnapshotStore, credentials *creds.Manager, runner scanRunner) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "gcp-network-tool",
			DisableStartupMessage: true,
		}),
		store:  snapshots,
		creds:  credentials,
		runner: runner,
		logger: internal.NewLogger(),
	}
	s.app.Use(recover.New())
	s.app.Use(fiberlogger.New())
	s.routes()
	return s
}

// Listen serves until the listener fails.
func (s *Server) Listen(addr string) error {
	s.logger.InfoMf(globals.GCP_API_MODULE_NAME, "listening on %s", addr)
	return s.app.Listen(addr)
}

// App exposes the underlying fiber app, used by tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := s.app.Group("/api")

	api.Post("/scans", s.submitScan)
	api.Get("/scans", s.listScans)
	api.Get("/scans/:id", s.getScan)
	api.Delete("/scans/:id", s.deleteScan)
	api.Get("/topology/latest", s.latestTopology)
	api.Get("/report/latest", s.latestReport)

	api.Post("/cidr/check", s.checkCIDR)
	api.Get("/cidr/suggest", s.suggestCIDR)
	api.Get("/cidr/info", s.cidrInfo)
	api.Get("/cidr/utilization", s.subnetUtilization)
	api.Get("/ips/suffix/:suffix", s.findSuffixIPs)
	api.Get("/ips/:ip", s.lookupIP)

	api.Post("/credentials", s.addCredential)
	api.Get("/credentials", s.listCredentials)
	api.Post("/credentials/:name/activate", s.activateCredential)
	api.Delete("/credentials/:name", s.removeCredential)
}

type scanRequest struct {
	SourceType    string `json:"source_type"`
	SourceID      string `json:"source_id"`
	ScanInstances *bool  `json:"scan_instances,omitempty"`
	ScanGKE       *bool  `json:"scan_gke,omitempty"`
	ScanWorkloads *bool  `json:"scan_workloads,omitempty"`
	ScanBuckets   *bool  `json:"scan_buckets,omitempty"`
}

func (r scanRequest) options() scanner.ScanOptions {
	opts := scanner.DefaultScanOptions()
	if r.ScanInstances != nil {
		opts.ScanInstances = *r.ScanInstances
	}
	if r.ScanGKE != nil {
		opts.ScanGKE = *r.ScanGKE
	}
	if r.ScanWorkloads != nil {
		opts.ScanWorkloads = *r.ScanWorkloads
	}
	if r.ScanBuckets != nil {
		opts.ScanBuckets = *r.ScanBuckets
	}
	return opts
}

// submitScan validates the target shape, hands out a scan id and runs
// the scan in the background. Progress is read back via the store.
func (s *Server) submitScan(c *fiber.Ctx) error {
	if s.runner == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "scanning is disabled on this instance")
	}
	var req scanRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.SourceType == "" {
		return fiber.NewError(fiber.StatusBadRequest, "source_type is required")
	}

	scanID := uuid.New().String()
	go func() {
		if _, err := s.runner.RunScanAs(context.Background(), scanID, req.SourceType, req.SourceID, req.options()); err != nil {
			s.logger.ErrorMf(globals.GCP_API_MODULE_NAME, "scan %s: %v", scanID, err)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"scan_id": scanID})
}

func (s *Server) listScans(c *fiber.Ctx) error {
	summaries, err := s.store.ListMetadata()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"scans": summaries})
}

func (s *Server) getScan(c *fiber.Ctx) error {
	record, err := s.store.Get(c.Params("id"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fiber.NewError(fiber.StatusNotFound, "scan not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(record)
}

func (s *Server) deleteScan(c *fiber.Ctx) error {
	if err := s.store.Delete(c.Params("id")); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fiber.NewError(fiber.StatusNotFound, "scan not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) latestSnapshot() (*models.Topology, error) {
	record, err := s.store.GetLatestCompleted()
	if err != nil {
		return nil, err
	}
	if record.Topology == nil {
		return nil, os.ErrNotExist
	}
	return record.Topology, nil
}

func (s *Server) latestTopology(c *fiber.Ctx) error {
	topology, err := s.latestSnapshot()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fiber.NewError(fiber.StatusNotFound, "no completed scan yet")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(topology)
}

func (s *Server) latestReport(c *fiber.Ctx) error {
	topology, err := s.latestSnapshot()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fiber.NewError(fiber.StatusNotFound, "no completed scan yet")
		}
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(security.Analyze(topology))
}

type cidrCheckRequest struct {
	CIDR string `json:"cidr"`
}

// checkCIDR reports collisions for a proposed range and, when it
// collides, alternative free blocks of the same size.
func (s *Server) checkCIDR(c *fiber.Ctx) error {
	var req cidrCheckRequest
	if err := c.BodyParser(&req); err != nil || req.CIDR == "" {
		return fiber.NewError(fiber.StatusBadRequest, "cidr is required")
	}
	topology, err := s.latestSnapshot()
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "no completed scan yet")
	}

	conflicts, err := cidr.FindConflicts(req.CIDR, topology)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	resp := fiber.Map{
		"cidr":      req.CIDR,
		"available": len(conflicts) == 0,
		"conflicts": conflicts,
	}
	if len(conflicts) > 0 {
		if _, lenStr, ok := strings.Cut(req.CIDR, "/"); ok {
			if bits, err := strconv.Atoi(lenStr); err == nil {
				if suggestions, err := cidr.SuggestAvailable(topology, "", bits, 5); err == nil {
					resp["suggestions"] = suggestions
				}
			}
		}
	}
	return c.JSON(resp)
}

func (s *Server) suggestCIDR(c *fiber.Ctx) error {
	topology, err := s.latestSnapshot()
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "no completed scan yet")
	}
	suggestions, err := cidr.SuggestAvailable(topology,
		c.Query("parent"), c.QueryInt("prefix"), c.QueryInt("count"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"suggestions": suggestions})
}

func (s *Server) cidrInfo(c *fiber.Ctx) error {
	info, err := cidr.CIDRInfo(c.Query("cidr"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(info)
}

func (s *Server) subnetUtilization(c *fiber.Ctx) error {
	topology, err := s.latestSnapshot()
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "no completed scan yet")
	}
	u, err := cidr.SubnetUtilization(c.Query("subnet"), topology)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(u)
}

func (s *Server) lookupIP(c *fiber.Ctx) error {
	topology, err := s.latestSnapshot()
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "no completed scan yet")
	}
	details, err := cidr.LookupIP(c.Params("ip"), topology)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(details)
}

func (s *Server) findSuffixIPs(c *fiber.Ctx) error {
	topology, err := s.latestSnapshot()
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "no completed scan yet")
	}
	suffix, err := c.ParamsInt("suffix")
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "suffix must be a number")
	}
	matches, err := cidr.FindSuffixIPs(suffix, topology)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(fiber.Map{"matches": matches})
}

type credentialRequest struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

func (s *Server) addCredential(c *fiber.Ctx) error {
	var req credentialRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	cred, err := s.creds.Add(req.Name, []byte(req.Key))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(cred)
}

func (s *Server) listCredentials(c *fiber.Ctx) error {
	list, err := s.creds.List()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"credentials": list})
}

func (s *Server) activateCredential(c *fiber.Ctx) error {
	if err := s.creds.Activate(c.Params("name")); err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) removeCredential(c *fiber.Ctx) error {
	if err := s.creds.Remove(c.Params("name")); err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}
