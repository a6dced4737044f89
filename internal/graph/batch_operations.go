package graph

import (
	"fmt"
	"sort"
)

// Nodes and edges are written with UNWIND: one parameter list per
// label (or relationship group) and chunk instead of one MERGE per item.
//
//	UNWIND $nodes AS node MERGE (n:File {path: node.key}) ...
//
// Labels cannot be parameters, hence the grouping.

// buildNodeBatches groups nodes by label into UNWIND queries
func buildNodeBatches(nodes []GraphNode, batch BatchConfig) ([]QueryWithParams, error) {
	byLabel := make(map[string][]map[string]any)
	var labels []string
	for _, node := range nodes {
		if err := validatePropertyKeys(node.Properties); err != nil {
			return nil, fmt.Errorf("node %s: %w", node.ID, err)
		}
		if _, ok := byLabel[node.Label]; !ok {
			labels = append(labels, node.Label)
		}
		byLabel[node.Label] = append(byLabel[node.Label], map[string]any{
			"key":   node.keyValue(),
			"props": node.Properties,
		})
	}
	sort.SliceStable(labels, func(i, j int) bool { return labelRank(labels[i]) < labelRank(labels[j]) })

	var queries []QueryWithParams
	for _, label := range labels {
		cypher, err := BuildBatchMergeNodes(label)
		if err != nil {
			return nil, err
		}
		params := byLabel[label]
		for _, r := range chunk(len(params), batch.GetBatchSizeForLabel(label)) {
			queries = append(queries, QueryWithParams{
				Query:  cypher,
				Params: map[string]any{"nodes": params[r[0]:r[1]]},
			})
		}
	}
	return queries, nil
}

type edgeGroup struct {
	relType, fromLabel, toLabel string
}

// buildEdgeBatches groups edges by (type, from label, to label) into UNWIND queries
func buildEdgeBatches(edges []GraphEdge, batch BatchConfig) ([]QueryWithParams, error) {
	groups := make(map[edgeGroup][]map[string]any)
	var order []edgeGroup
	for _, edge := range edges {
		from, ok := parseNodeID(edge.From)
		if !ok {
			return nil, fmt.Errorf("invalid edge source id: %s", edge.From)
		}
		to, ok := parseNodeID(edge.To)
		if !ok {
			return nil, fmt.Errorf("invalid edge target id: %s", edge.To)
		}
		props := edge.Properties
		if props == nil {
			props = map[string]any{}
		}
		if err := validatePropertyKeys(props); err != nil {
			return nil, fmt.Errorf("edge %s: %w", edge.Label, err)
		}

		g := edgeGroup{relType: edge.Label, fromLabel: from.Label, toLabel: to.Label}
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		param := map[string]any{"from": from.Value, "to": to.Value, "props": props}
		if mergesTarget(g.relType, g.toLabel) {
			param["stub"] = stubFileProperties(to.Value)
		}
		groups[g] = append(groups[g], param)
	}

	var queries []QueryWithParams
	for _, g := range order {
		cypher, err := BuildBatchMergeEdges(g.relType, g.fromLabel, g.toLabel)
		if err != nil {
			return nil, err
		}
		params := groups[g]
		for _, r := range chunk(len(params), batch.EdgeBatchSize) {
			queries = append(queries, QueryWithParams{
				Query:  cypher,
				Params: map[string]any{"edges": params[r[0]:r[1]]},
			})
		}
	}
	return queries, nil
}
