package fatwalk

import "github.com/dargueta/exfat/blockio"

// SectorIndex is a relative position within the cluster heap: a cluster id
// plus a sector offset within that cluster.
type SectorIndex struct {
	Cluster        ClusterID
	SectorInCluster uint32
}

// Geometry is the subset of "FS info" SectorIndex resolution
// needs: the heap's first sector and the cluster size in sectors.
type Geometry struct {
	HeapOffsetSector  blockio.SectorID
	SectorsPerCluster uint32
}

// Resolve computes the absolute SectorID for idx:
// heap_offset + (cluster_id-2) * sectors_per_cluster + sector_within_cluster.
func (g Geometry) Resolve(idx SectorIndex) blockio.SectorID {
	offset := int64(idx.Cluster-FirstCluster)*int64(g.SectorsPerCluster) + int64(idx.SectorInCluster)
	return g.HeapOffsetSector.Add(offset)
}

// Next advances idx by one sector within the same cluster, without
// crossing a cluster boundary: the "still within the current cluster"
// branch of the meta-directory's cluster-crossing next().
func (idx SectorIndex) Next() SectorIndex {
	return SectorIndex{Cluster: idx.Cluster, SectorInCluster: idx.SectorInCluster + 1}
}

// AtClusterBoundary reports whether idx is the last sector of its cluster,
// given sectorsPerCluster.
func (idx SectorIndex) AtClusterBoundary(sectorsPerCluster uint32) bool {
	return idx.SectorInCluster+1 >= sectorsPerCluster
}
