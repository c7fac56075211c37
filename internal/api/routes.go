package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sourcewatch-project/sourcewatch/internal/master"
	"github.com/sourcewatch-project/sourcewatch/internal/query"
	"github.com/sourcewatch-project/sourcewatch/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "sourcewatch",
		"version": "1.0.0",
	})
}

// handleSystemInfo returns host system information and resource usage.
func (s *Server) handleSystemInfo(c *gin.Context) {
	sysInfo := util.GetSystemInfo()

	resp := gin.H{
		"hostname":        sysInfo.Hostname,
		"os":              sysInfo.OS,
		"architecture":    sysInfo.Architecture,
		"cpu_model":       sysInfo.CPUModel,
		"cpu_cores":       sysInfo.CPUCores,
		"total_memory_mb": sysInfo.TotalMemory,
	}

	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}

	c.JSON(http.StatusOK, resp)
}

// handleListServers returns the tracked server registry with the latest
// snapshot attached to each entry.
func (s *Server) handleListServers(c *gin.Context) {
	servers, err := s.store.Servers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load servers"})
		return
	}

	type entry struct {
		Server   interface{} `json:"server"`
		Snapshot interface{} `json:"snapshot,omitempty"`
	}

	out := make([]entry, 0, len(servers))
	for _, srv := range servers {
		e := entry{Server: srv}
		if snap, err := s.store.LatestSnapshot(srv.Address); err == nil && snap != nil {
			e.Snapshot = snap
		}
		out = append(out, e)
	}

	c.JSON(http.StatusOK, gin.H{"servers": out, "count": len(out)})
}

// serverAddress validates the :address route parameter.
func serverAddress(c *gin.Context) (string, bool) {
	addr := c.Param("address")
	if _, _, err := net.SplitHostPort(addr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address, expected host:port"})
		return "", false
	}
	return addr, true
}

// liveSession dials the given server and returns a ready query session.
// The caller must close the returned transport.
func (s *Server) liveSession(addr string) (*query.UDPTransport, *query.Session, error) {
	timeout := time.Duration(s.cfg.GetQuery().TimeoutSec) * time.Second
	transport, err := query.DialUDP(addr)
	if err != nil {
		return nil, nil, err
	}
	return transport, query.NewSession(transport, timeout), nil
}

// handleServerInfo queries a server live and returns its info reply.
func (s *Server) handleServerInfo(c *gin.Context) {
	addr, ok := serverAddress(c)
	if !ok {
		return
	}

	transport, session, err := s.liveSession(addr)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer transport.Close()

	info, err := session.Info()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, info)
}

// handleServerPlayers queries a server live and returns its player list.
func (s *Server) handleServerPlayers(c *gin.Context) {
	addr, ok := serverAddress(c)
	if !ok {
		return
	}

	transport, session, err := s.liveSession(addr)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer transport.Close()

	players, err := session.Players()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"players": players, "count": len(players)})
}

// handleServerRules queries a server live and returns its rules table.
func (s *Server) handleServerRules(c *gin.Context) {
	addr, ok := serverAddress(c)
	if !ok {
		return
	}

	transport, session, err := s.liveSession(addr)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer transport.Close()

	rules, err := session.Rules()
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

// handleServerHistory returns recent snapshots for a tracked server.
func (s *Server) handleServerHistory(c *gin.Context) {
	addr, ok := serverAddress(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be 1-1000"})
			return
		}
		limit = n
	}

	history, err := s.store.History(addr, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}

// handleMasterBrowse runs a live master-server sweep. The filter query
// parameter overrides the configured filter.
func (s *Server) handleMasterBrowse(c *gin.Context) {
	mCfg := s.cfg.GetMaster()

	filter := mCfg.Filter
	if raw, present := c.GetQuery("filter"); present {
		filter = raw
	}

	timeout := time.Duration(s.cfg.GetQuery().TimeoutSec) * time.Second
	transport, err := query.DialUDP(mCfg.Address)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	defer transport.Close()

	browser := master.NewBrowser(transport, timeout,
		master.WithRegion(mCfg.Region),
		master.WithFilter(filter),
		master.WithPageLimit(mCfg.PageLimit))

	endpoints, err := browser.Servers(c.Request.Context())
	if err != nil && len(endpoints) == 0 {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	addrs := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		addrs = append(addrs, ep.String())
	}

	resp := gin.H{"servers": addrs, "count": len(addrs)}
	if err != nil {
		// Partial result, e.g. the page budget ran out mid-sweep.
		resp["partial"] = true
	}
	c.JSON(http.StatusOK, resp)
}
